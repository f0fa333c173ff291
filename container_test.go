package plandi

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var instanceCounter atomic.Int32

type (
	disposalLog struct {
		mu    sync.Mutex
		names []string
	}

	database struct {
		id       int32
		disposed bool
		log      *disposalLog
	}

	repository struct {
		db       *database
		disposed bool
		log      *disposalLog
	}

	session struct {
		id       int32
		disposed bool
	}

	unitOfWork struct {
		id int32
	}

	handler struct {
		first  *unitOfWork
		second *unitOfWork
	}

	reportJob struct {
		repo *repository
	}
)

func (l *disposalLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (d *database) Dispose() error {
	d.disposed = true
	if d.log != nil {
		d.log.add("database")
	}
	return nil
}

func (r *repository) Close() error {
	r.disposed = true
	if r.log != nil {
		r.log.add("repository")
	}
	return nil
}

func (s *session) Dispose() error {
	s.disposed = true
	return nil
}

func newDatabase() *database {
	return &database{id: instanceCounter.Add(1)}
}

func newRepository(db *database) *repository {
	return &repository{db: db}
}

func newSession() *session {
	return &session{id: instanceCounter.Add(1)}
}

func newUnitOfWork() *unitOfWork {
	return &unitOfWork{id: instanceCounter.Add(1)}
}

func newHandler(first *unitOfWork, second *unitOfWork) *handler {
	return &handler{first: first, second: second}
}

func TestContainer_Register(t *testing.T) {
	t.Run("it should reject an implementation not assignable to the service type", func(t *testing.T) {
		// GIVEN
		c := New()

		// WHEN
		err := c.Register(newDatabase, As[fmt.Stringer]())

		// THEN
		assert.ErrorIs(t, err, RegisteredImplementationNotAssignableToServiceType)
	})

	t.Run("it should reject a duplicate name", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase, Named("main")))

		// WHEN
		err := c.Register(newDatabase, Named("main"))

		// THEN
		assert.ErrorIs(t, err, DuplicateServiceKey)
	})

	t.Run("it should keep the existing registration when asked to", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(func() string { return "first" }, Named("name")))

		// WHEN
		err := c.Register(func() string { return "second" }, Named("name"), WhenAlreadyRegistered(KeepExisting))

		// THEN
		require.NoError(t, err)
		name, err := ResolveNamed[string](c, "name")
		require.NoError(t, err)
		assert.Equal(t, "first", name)
	})

	t.Run("it should reject values that are not constructors", func(t *testing.T) {
		// GIVEN
		c := New()

		// WHEN
		err := c.Register(42)

		// THEN
		assert.ErrorIs(t, err, InvalidRegistration)
	})

	t.Run("it should panic with MustRegister on invalid registration", func(t *testing.T) {
		// GIVEN
		c := New()

		// WHEN / THEN
		assert.Panics(t, func() { c.MustRegister("not a constructor") })
	})

	t.Run("it should register an instance as a singleton", func(t *testing.T) {
		// GIVEN
		c := New()
		db := &database{id: 42}

		// WHEN
		err := RegisterInstance(c, db)

		// THEN
		require.NoError(t, err)
		resolved, err := Resolve[*database](c)
		require.NoError(t, err)
		assert.Same(t, db, resolved)
	})

	t.Run("it should register a delegate", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase, WithReuse(Singleton)))

		// WHEN
		err := RegisterDelegate(c, func(r Resolver) (*repository, error) {
			db, err := Resolve[*database](r)
			if err != nil {
				return nil, err
			}
			return &repository{db: db}, nil
		})

		// THEN
		require.NoError(t, err)
		repo, err := Resolve[*repository](c)
		require.NoError(t, err)
		db, err := Resolve[*database](c)
		require.NoError(t, err)
		assert.Same(t, db, repo.db)
	})
}

func TestContainer_Inspection(t *testing.T) {
	t.Run("it should list the keys in registration order", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase))
		require.NoError(t, c.Register(newDatabase, Named("replica")))
		require.NoError(t, c.Register(newDatabase))

		// WHEN
		keys := c.GetKeys(TypeOf[*database]())

		// THEN
		assert.Equal(t, []any{DefaultKey(0), DefaultKey(1), "replica"}, keys)
	})

	t.Run("it should unregister a service", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase))
		_, err := Resolve[*database](c)
		require.NoError(t, err)

		// WHEN
		removed := c.Unregister(TypeOf[*database](), nil)

		// THEN
		assert.True(t, removed)
		assert.False(t, c.IsRegistered(TypeOf[*database](), nil))
		_, err = Resolve[*database](c)
		assert.ErrorIs(t, err, UnableToResolveUnknownService)
	})

	t.Run("it should report nothing removed for an unknown service", func(t *testing.T) {
		// GIVEN
		c := New()

		// WHEN
		removed := c.Unregister(TypeOf[*database](), "missing")

		// THEN
		assert.False(t, removed)
	})

	t.Run("it should resolve itself as a resolver", func(t *testing.T) {
		// GIVEN
		c := New()
		scope := c.OpenScope()

		// WHEN
		r, err := Resolve[Resolver](scope)

		// THEN
		require.NoError(t, err)
		assert.Same(t, scope, r)
	})
}

func TestContainer_Reuse(t *testing.T) {
	t.Run("it should return the same singleton through every path", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase, WithReuse(Singleton)))
		require.NoError(t, c.Register(newRepository))

		// WHEN
		db1, err1 := Resolve[*database](c)
		db2, err2 := Resolve[*database](c.OpenScope())
		repo, err3 := Resolve[*repository](c)

		// THEN
		require.NoError(t, errors.Join(err1, err2, err3))
		assert.Same(t, db1, db2)
		assert.Same(t, db1, repo.db)
	})

	t.Run("it should create a new transient on every resolution", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase))

		// WHEN
		db1, err1 := Resolve[*database](c)
		db2, err2 := Resolve[*database](c)

		// THEN
		require.NoError(t, errors.Join(err1, err2))
		assert.NotSame(t, db1, db2)
	})

	t.Run("it should apply the default reuse of the rules", func(t *testing.T) {
		// GIVEN
		c := New(WithDefaultReuse(Singleton))
		require.NoError(t, c.Register(newDatabase))

		// WHEN
		db1, err1 := Resolve[*database](c)
		db2, err2 := Resolve[*database](c)

		// THEN
		require.NoError(t, errors.Join(err1, err2))
		assert.Same(t, db1, db2)
	})

	t.Run("it should share scoped services within a scope only", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newSession, WithReuse(Scoped)))
		s1 := c.OpenScope()
		s2 := c.OpenScope()

		// WHEN
		a, err1 := Resolve[*session](s1)
		b, err2 := Resolve[*session](s1)
		other, err3 := Resolve[*session](s2)

		// THEN
		require.NoError(t, errors.Join(err1, err2, err3))
		assert.Same(t, a, b)
		assert.NotSame(t, a, other)
	})

	t.Run("it should dispose scoped services with their scope", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newSession, WithReuse(Scoped)))
		s1 := c.OpenScope()
		x1, err := Resolve[*session](s1)
		require.NoError(t, err)

		// WHEN
		require.NoError(t, s1.Dispose())
		s2 := c.OpenScope()
		x2, err := Resolve[*session](s2)

		// THEN
		require.NoError(t, err)
		assert.True(t, x1.disposed)
		assert.False(t, x2.disposed)
		assert.NotSame(t, x1, x2)
	})

	t.Run("it should fail to resolve a scoped service without scope", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newSession, WithReuse(Scoped)))

		// WHEN
		_, err := Resolve[*session](c)

		// THEN
		assert.ErrorIs(t, err, NoCurrentScope)
	})

	t.Run("it should report the chain leading to a nested scoped service resolved without scope", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase, WithReuse(Scoped)))
		require.NoError(t, c.Register(newRepository))
		require.NoError(t, c.Register(func(r *repository) *reportJob { return &reportJob{repo: r} }))

		// WHEN
		_, err := Resolve[*reportJob](c)

		// THEN
		require.ErrorIs(t, err, NoCurrentScope)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		require.NotNil(t, re.Request)
		assert.Equal(t, TypeOf[*database](), re.Request.ServiceType())
		require.NotNil(t, re.Request.Parent())
		assert.Equal(t, TypeOf[*repository](), re.Request.Parent().ServiceType())
		require.NotNil(t, re.Request.Parent().Parent())
		assert.Equal(t, TypeOf[*reportJob](), re.Request.Parent().Parent().ServiceType())
		assert.Contains(t, err.Error(), "*plandi.reportJob")
	})

	t.Run("it should report the chain leading to a failing constructor", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(func() (*database, error) { return nil, errBoom }))
		require.NoError(t, c.Register(newRepository))

		// WHEN
		_, err := Resolve[*repository](c)

		// THEN
		require.ErrorIs(t, err, FactoryFailed)
		assert.ErrorIs(t, err, errBoom)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		require.NotNil(t, re.Request)
		assert.Equal(t, TypeOf[*database](), re.Request.ServiceType())
		assert.Contains(t, re.Request.Ancestry(), "*plandi.repository")
	})

	t.Run("it should share a service in the named scope", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newSession, WithReuse(ScopedTo("request"))))
		request := c.OpenScope("request")
		nested := request.OpenScope()

		// WHEN
		fromNested, err1 := Resolve[*session](nested)
		fromRequest, err2 := Resolve[*session](request)

		// THEN
		require.NoError(t, errors.Join(err1, err2))
		assert.Same(t, fromNested, fromRequest)
	})

	t.Run("it should fail when no scope has the expected name", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newSession, WithReuse(ScopedTo("request"))))

		// WHEN
		_, err := Resolve[*session](c.OpenScope("job"))

		// THEN
		assert.ErrorIs(t, err, NoMatchedScopeFound)
	})

	t.Run("it should share a service within one resolution", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newUnitOfWork, WithReuse(InResolutionScope)))
		require.NoError(t, c.Register(newHandler))

		// WHEN
		h1, err1 := Resolve[*handler](c)
		h2, err2 := Resolve[*handler](c)

		// THEN
		require.NoError(t, errors.Join(err1, err2))
		assert.Same(t, h1.first, h1.second)
		assert.NotSame(t, h1.first, h2.first)
	})

	t.Run("it should reject a singleton depending on a scoped service", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase, WithReuse(Scoped)))
		require.NoError(t, c.Register(newRepository, WithReuse(Singleton)))

		// WHEN
		_, err := Resolve[*repository](c.OpenScope())

		// THEN
		assert.ErrorIs(t, err, DependencyHasShorterReuseLifespan)
	})

	t.Run("it should build each singleton once under concurrent resolutions", func(t *testing.T) {
		// GIVEN
		c := New(WithoutSingletonFolding())
		var created atomic.Int32
		require.NoError(t, c.Register(func() *database {
			created.Add(1)
			return &database{}
		}, WithReuse(Singleton)))

		// WHEN
		var wg sync.WaitGroup
		results := make([]*database, 16)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], _ = Resolve[*database](c)
			}()
		}
		wg.Wait()

		// THEN
		assert.Equal(t, int32(1), created.Load())
		for _, db := range results {
			assert.Same(t, results[0], db)
		}
	})
}

func TestContainer_ConcurrentRegistration(t *testing.T) {
	t.Run("it should let readers run while services are registered", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase, WithReuse(Singleton)))
		const writers, perWriter, readers = 4, 25, 4
		sessionType := TypeOf[*session]()

		// WHEN
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		report := func(err error) {
			mu.Lock()
			defer mu.Unlock()
			errs = append(errs, err)
		}
		for w := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range perWriter {
					name := fmt.Sprintf("session-%d-%d", w, i)
					if err := RegisterInstance(c, &session{id: int32(i)}, Named(name)); err != nil {
						report(err)
						continue
					}
					if !c.IsRegistered(sessionType, name) {
						report(fmt.Errorf("%s is not visible after its registration", name))
					}
				}
			}()
		}
		for range readers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				seen := 0
				for range perWriter {
					if _, err := Resolve[*database](c); err != nil {
						report(err)
					}
					keys := c.GetKeys(sessionType)
					if len(keys) < seen {
						report(fmt.Errorf("keys went from %d to %d", seen, len(keys)))
					}
					seen = len(keys)
					for _, key := range keys {
						if _, err := ResolveKeyed[*session](c, key); err != nil {
							report(err)
						}
					}
				}
			}()
		}
		wg.Wait()

		// THEN
		assert.NoError(t, errors.Join(errs...))
		assert.Len(t, c.GetKeys(sessionType), writers*perWriter)
	})
}

func TestContainer_Dispose(t *testing.T) {
	t.Run("it should dispose in the reverse order of creation", func(t *testing.T) {
		// GIVEN
		log := &disposalLog{}
		c := New()
		require.NoError(t, c.Register(func() *database { return &database{log: log} }, WithReuse(Singleton)))
		require.NoError(t, c.Register(func(db *database) *repository { return &repository{db: db, log: log} }, WithReuse(Singleton)))
		_, err := Resolve[*repository](c)
		require.NoError(t, err)

		// WHEN
		err = c.Dispose()

		// THEN
		require.NoError(t, err)
		assert.Equal(t, []string{"repository", "database"}, log.names)
	})

	t.Run("it should dispose only once", func(t *testing.T) {
		// GIVEN
		log := &disposalLog{}
		c := New()
		require.NoError(t, RegisterInstance(c, &database{log: log}))
		_, err := Resolve[*database](c)
		require.NoError(t, err)

		// WHEN
		require.NoError(t, c.Dispose())
		require.NoError(t, c.Dispose())

		// THEN
		assert.Equal(t, []string{"database"}, log.names)
		assert.True(t, c.IsDisposed())
	})

	t.Run("it should fail to use a disposed container and its scopes", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase))
		scope := c.OpenScope()

		// WHEN
		require.NoError(t, c.Close())

		// THEN
		_, err := Resolve[*database](c)
		assert.ErrorIs(t, err, ContainerIsDisposed)
		_, err = Resolve[*database](scope)
		assert.ErrorIs(t, err, ContainerIsDisposed)
		assert.ErrorIs(t, c.Register(newDatabase), ContainerIsDisposed)
	})

	t.Run("it should fail to use the children of a disposed scope", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase))
		parent := c.OpenScope()
		child := parent.OpenScope()

		// WHEN
		require.NoError(t, parent.Dispose())

		// THEN
		_, err := Resolve[*database](child)
		assert.ErrorIs(t, err, ScopeIsDisposed)
		assert.True(t, child.IsDisposed())
		_, err = Resolve[*database](c)
		assert.NoError(t, err)
	})

	t.Run("it should track disposable transients when asked to", func(t *testing.T) {
		// GIVEN
		c := New(WithTrackDisposableTransients())
		require.NoError(t, c.Register(newSession))
		scope := c.OpenScope()
		s, err := Resolve[*session](scope)
		require.NoError(t, err)

		// WHEN
		require.NoError(t, scope.Dispose())

		// THEN
		assert.True(t, s.disposed)
	})

	t.Run("it should join the disposal errors", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, RegisterInstance[failingCloser](c, failingCloser{}))
		_, err := Resolve[failingCloser](c)
		require.NoError(t, err)

		// WHEN
		err = c.Dispose()

		// THEN
		assert.ErrorIs(t, err, errCloseFailed)
	})

	t.Run("it should panic on a non comparable scope name", func(t *testing.T) {
		// GIVEN
		c := New()

		// WHEN / THEN
		assert.Panics(t, func() { c.OpenScope([]string{"request"}) })
	})
}

var errCloseFailed = errors.New("close failed")

type failingCloser struct{}

func (failingCloser) Close() error { return errCloseFailed }
