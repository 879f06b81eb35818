package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-gatekeeper/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	identityStore       *IdentityStore
	catalogStore        *CatalogStore
	fulfillmentStore    *FulfillmentStore
	paymentEventStore   *PaymentEventStore
	jobQueue            *JobQueue
	cachedIdentityStore *CachedIdentityStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.identityStore != nil && f.fulfillmentStore != nil {
		return nil
	}
	return f.initStores()
}

// WithIdentityCache wraps the identity store in a read-through cache.
func (f *RepositoryFactory) WithIdentityCache(cacheService repositorycache.CacheService) error {
	if f == nil || f.identityStore == nil {
		return fmt.Errorf("sqlstore: stores are not built")
	}
	cached, err := NewCachedIdentityStore(f.identityStore, cacheService)
	if err != nil {
		return err
	}
	f.cachedIdentityStore = cached
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// IdentityStore returns the cached store when WithIdentityCache was applied.
func (f *RepositoryFactory) IdentityStore() core.IdentityStore {
	if f == nil {
		return nil
	}
	if f.cachedIdentityStore != nil {
		return f.cachedIdentityStore
	}
	return f.identityStore
}

func (f *RepositoryFactory) CatalogStore() *CatalogStore {
	if f == nil {
		return nil
	}
	return f.catalogStore
}

func (f *RepositoryFactory) FulfillmentStore() *FulfillmentStore {
	if f == nil {
		return nil
	}
	return f.fulfillmentStore
}

func (f *RepositoryFactory) PaymentEventStore() *PaymentEventStore {
	if f == nil {
		return nil
	}
	return f.paymentEventStore
}

func (f *RepositoryFactory) JobQueue() *JobQueue {
	if f == nil {
		return nil
	}
	return f.jobQueue
}

func (f *RepositoryFactory) initStores() error {
	identityStore, err := NewIdentityStore(f.db)
	if err != nil {
		return err
	}
	f.identityStore = identityStore
	catalogStore, err := NewCatalogStore(f.db)
	if err != nil {
		return err
	}
	f.catalogStore = catalogStore
	fulfillmentStore, err := NewFulfillmentStore(f.db)
	if err != nil {
		return err
	}
	f.fulfillmentStore = fulfillmentStore
	paymentEventStore, err := NewPaymentEventStore(f.db)
	if err != nil {
		return err
	}
	f.paymentEventStore = paymentEventStore
	jobQueue, err := NewJobQueue(f.db)
	if err != nil {
		return err
	}
	f.jobQueue = jobQueue
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
