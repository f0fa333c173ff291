package plandi

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	serviceA struct{ b *serviceB }
	serviceB struct{ a *serviceA }

	controller struct {
		DB      *database `inject:""`
		AppName string    `inject:"app_name,optional"`
		Ignored *session
	}

	endpoint struct {
		host string
		port int
	}
)

var errBoom = errors.New("boom")

func newServiceA(b *serviceB) *serviceA { return &serviceA{b: b} }
func newServiceB(a *serviceA) *serviceB { return &serviceB{a: a} }

func TestResolve(t *testing.T) {
	t.Run("it should detect a dependency cycle", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newServiceA))
		require.NoError(t, c.Register(newServiceB))

		// WHEN
		_, err := Resolve[*serviceA](c)

		// THEN
		assert.ErrorIs(t, err, RecursiveDependencyDetected)
		assert.Contains(t, err.Error(), "resolving *plandi.serviceA")
		assert.Contains(t, err.Error(), "in *plandi.serviceB")
	})

	t.Run("it should fail on an unknown service with the request ancestry", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newRepository))

		// WHEN
		_, err := Resolve[*repository](c)

		// THEN
		require.ErrorIs(t, err, UnableToResolveUnknownService)
		var resolutionErr *ResolutionError
		require.ErrorAs(t, err, &resolutionErr)
		require.NotNil(t, resolutionErr.Request)
		assert.Equal(t, TypeOf[*database](), resolutionErr.Request.ServiceType())
		assert.Equal(t, TypeOf[*repository](), resolutionErr.Request.Parent().ServiceType())
	})

	t.Run("it should return the zero value when trying an unknown service", func(t *testing.T) {
		// GIVEN
		c := New()

		// WHEN
		db, found, err := TryResolve[*database](c)

		// THEN
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, db)
	})

	t.Run("it should report the failures below a registered service when trying it", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newRepository))

		// WHEN
		_, _, err := TryResolve[*repository](c)

		// THEN
		assert.ErrorIs(t, err, UnableToResolveUnknownService)
	})

	t.Run("it should substitute the zero value everywhere with ReturnDefault", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newRepository))

		// WHEN
		repo, err := c.Resolve(TypeOf[*repository](), nil, ReturnDefault)

		// THEN
		require.NoError(t, err)
		assert.Nil(t, repo)
	})

	t.Run("it should inject the zero value for an optional dependency", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newRepository, Dependencies(Inject.Optional())))

		// WHEN
		repo, err := Resolve[*repository](c)

		// THEN
		require.NoError(t, err)
		assert.Nil(t, repo.db)
	})

	t.Run("it should inject a default value and named dependencies", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, RegisterInstance(c, "example.org", Named("host")))
		require.NoError(t, c.Register(
			func(host string, port int) *endpoint { return &endpoint{host: host, port: port} },
			Dependencies(Inject.Named("host"), Inject.Named("port").Default(8080)),
		))

		// WHEN
		e, err := Resolve[*endpoint](c)

		// THEN
		require.NoError(t, err)
		assert.Equal(t, &endpoint{host: "example.org", port: 8080}, e)
	})

	t.Run("it should reject more dependencies than parameters", func(t *testing.T) {
		// GIVEN
		c := New()

		// WHEN
		err := c.Register(newRepository, Dependencies(Inject.Auto(), Inject.Auto()))

		// THEN
		assert.ErrorIs(t, err, InvalidRegistration)
	})

	t.Run("it should fail on several defaults without selector", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase))
		require.NoError(t, c.Register(newDatabase))

		// WHEN
		_, err := Resolve[*database](c)

		// THEN
		assert.ErrorIs(t, err, ExpectedSingleDefaultFactory)
	})

	t.Run("it should let the factory selector pick a default", func(t *testing.T) {
		// GIVEN
		c := New(WithFactorySelector(PickLastDefault))
		require.NoError(t, c.Register(func() string { return "first" }))
		require.NoError(t, c.Register(func() string { return "last" }))

		// WHEN
		value, err := Resolve[string](c)

		// THEN
		require.NoError(t, err)
		assert.Equal(t, "last", value)
	})

	t.Run("it should resolve a default by its index", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(func() string { return "first" }))
		require.NoError(t, c.Register(func() string { return "second" }))

		// WHEN
		value, err := ResolveKeyed[string](c, DefaultKey(1))

		// THEN
		require.NoError(t, err)
		assert.Equal(t, "second", value)
	})

	t.Run("it should return the same result when resolving several times", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase, WithReuse(Singleton)))
		require.NoError(t, c.Register(newRepository))

		// WHEN
		first, err1 := Resolve[*repository](c)
		second, err2 := Resolve[*repository](c)

		// THEN
		require.NoError(t, errors.Join(err1, err2))
		assert.NotSame(t, first, second)
		assert.Same(t, first.db, second.db)
	})

	t.Run("it should use the replacing registration after a resolution", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase, WithReuse(Singleton)))
		before, err := Resolve[*database](c)
		require.NoError(t, err)

		// WHEN
		replacement := &database{id: -1}
		require.NoError(t, RegisterInstance(c, replacement, WhenAlreadyRegistered(ReplaceExisting)))

		// THEN
		after, err := Resolve[*database](c)
		require.NoError(t, err)
		assert.Same(t, replacement, after)
		assert.NotSame(t, before, after)
		assert.False(t, before.disposed)
	})

	t.Run("it should see the replacement from cached dependents", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(func() string { return "before" }))
		require.NoError(t, c.Register(func(s string) *endpoint { return &endpoint{host: s} }))
		first, err := Resolve[*endpoint](c)
		require.NoError(t, err)

		// WHEN
		require.NoError(t, c.Register(func() string { return "after" }, WhenAlreadyRegistered(ReplaceExisting)))

		// THEN
		second, err := Resolve[*endpoint](c)
		require.NoError(t, err)
		assert.Equal(t, "before", first.host)
		assert.Equal(t, "after", second.host)
	})

	t.Run("it should report a constructor error", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(func() (*database, error) { return nil, errBoom }))

		// WHEN
		_, err := Resolve[*database](c)

		// THEN
		assert.ErrorIs(t, err, FactoryFailed)
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("it should report a constructor panic", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(func() *database { panic("no database") }))

		// WHEN
		_, err := Resolve[*database](c)

		// THEN
		assert.ErrorIs(t, err, FactoryFailed)
		assert.Contains(t, err.Error(), "no database")
	})

	t.Run("it should report a failing singleton when building its plan", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(func() (*database, error) { return nil, errBoom }, WithReuse(Singleton)))
		require.NoError(t, c.Register(newRepository))

		// WHEN
		_, err := Resolve[*repository](c)

		// THEN
		assert.ErrorIs(t, err, FactoryFailed)
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("it should panic with MustResolve on failure", func(t *testing.T) {
		// GIVEN
		c := New()

		// WHEN / THEN
		assert.Panics(t, func() { MustResolve[*database](c) })
	})
}

func TestResolve_Injection(t *testing.T) {
	t.Run("it should fill the tagged fields of a struct", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase, WithReuse(Singleton)))
		require.NoError(t, RegisterType[*controller](c))

		// WHEN
		ctrl, err := Resolve[*controller](c)

		// THEN
		require.NoError(t, err)
		db, err := Resolve[*database](c)
		require.NoError(t, err)
		assert.Same(t, db, ctrl.DB)
		assert.Empty(t, ctrl.AppName)
		assert.Nil(t, ctrl.Ignored)
	})

	t.Run("it should inject fields after calling the constructor", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, RegisterInstance(c, "plandi", Named("app_name")))
		require.NoError(t, c.Register(newDatabase))
		require.NoError(t, c.Register(func() *controller { return &controller{} }, WithFieldInjection()))

		// WHEN
		ctrl, err := Resolve[*controller](c)

		// THEN
		require.NoError(t, err)
		assert.NotNil(t, ctrl.DB)
		assert.Equal(t, "plandi", ctrl.AppName)
	})

	t.Run("it should register a nil struct pointer for field injection", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase))

		// WHEN
		err := c.Register((*controller)(nil))

		// THEN
		require.NoError(t, err)
		ctrl, err := Resolve[*controller](c)
		require.NoError(t, err)
		assert.NotNil(t, ctrl.DB)
	})

	t.Run("it should pick the constructor having all its arguments resolvable", func(t *testing.T) {
		// GIVEN
		c := New(WithConstructorSelector(SelectMostResolvable))
		require.NoError(t, RegisterInstance(c, "localhost"))
		require.NoError(t, c.Register(
			func(host string, port int) *endpoint { return &endpoint{host: host, port: port} },
			AlternativeConstructors(
				func(host string) *endpoint { return &endpoint{host: host, port: 80} },
				func() *endpoint { return &endpoint{} },
			),
		))

		// WHEN
		e, err := Resolve[*endpoint](c)

		// THEN
		require.NoError(t, err)
		assert.Equal(t, &endpoint{host: "localhost", port: 80}, e)
	})

	t.Run("it should use the constructor chosen by signature", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(
			func() *endpoint { return &endpoint{host: "first"} },
			AlternativeConstructors(func() *endpoint { return &endpoint{host: "second"} }),
			SelectConstructor(SelectBySignature(func(candidates []reflect.Type) int { return len(candidates) - 1 })),
		))

		// WHEN
		e, err := Resolve[*endpoint](c)

		// THEN
		require.NoError(t, err)
		assert.Equal(t, "second", e.host)
	})

	t.Run("it should fail on several constructors without selector", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(
			func() *endpoint { return &endpoint{} },
			AlternativeConstructors(func() *endpoint { return &endpoint{} }),
		))

		// WHEN
		_, err := Resolve[*endpoint](c)

		// THEN
		assert.ErrorIs(t, err, UnableToSelectConstructor)
	})

	t.Run("it should fail when no constructor is resolvable", func(t *testing.T) {
		// GIVEN
		c := New(WithConstructorSelector(SelectMostResolvable))
		require.NoError(t, c.Register(
			func(port int) *endpoint { return &endpoint{port: port} },
			AlternativeConstructors(func(host string) *endpoint { return &endpoint{host: host} }),
		))

		// WHEN
		_, err := Resolve[*endpoint](c)

		// THEN
		assert.ErrorIs(t, err, UnableToFindCtorWithAllResolvableArgs)
	})
}

func TestResolveMany(t *testing.T) {
	t.Run("it should resolve every registration in order", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(func() string { return "a" }))
		require.NoError(t, c.Register(func() string { return "b" }, Named("named")))
		require.NoError(t, c.Register(func() string { return "c" }))

		// WHEN
		values, err := ResolveAll[string](c)

		// THEN
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c", "b"}, values)
	})

	t.Run("it should surface failures while iterating", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase))
		require.NoError(t, c.Register(func() (*database, error) { return nil, errBoom }))

		// WHEN
		var (
			resolved int
			errs     []error
		)
		for db, err := range ResolveMany[*database](c) {
			if err != nil {
				errs = append(errs, err)
				continue
			}
			assert.NotNil(t, db)
			resolved++
		}

		// THEN
		assert.Equal(t, 1, resolved)
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], errBoom)
	})

	t.Run("it should stop when the consumer breaks", func(t *testing.T) {
		// GIVEN
		c := New()
		var created int
		for range 3 {
			require.NoError(t, c.Register(func() *database { created++; return &database{} }))
		}

		// WHEN
		for range ResolveMany[*database](c) {
			break
		}

		// THEN
		assert.Equal(t, 1, created)
	})
}

func TestContainer_Validate(t *testing.T) {
	t.Run("it should accept resolvable registrations without creating singletons", func(t *testing.T) {
		// GIVEN
		c := New()
		var created int
		require.NoError(t, c.Register(func() *database { created++; return &database{} }, WithReuse(Singleton)))
		require.NoError(t, c.Register(newRepository, WithReuse(Singleton)))

		// WHEN
		err := c.Validate(context.Background())

		// THEN
		require.NoError(t, err)
		assert.Zero(t, created)
	})

	t.Run("it should report every unresolvable registration", func(t *testing.T) {
		// GIVEN
		c := New(WithValidationConcurrency(2))
		require.NoError(t, c.Register(newRepository))
		require.NoError(t, c.Register(newServiceA))
		require.NoError(t, c.Register(newServiceB))

		// WHEN
		err := c.Validate(context.Background())

		// THEN
		assert.ErrorIs(t, err, UnableToResolveUnknownService)
		assert.ErrorIs(t, err, RecursiveDependencyDetected)
	})
}

func TestContainer_Describe(t *testing.T) {
	t.Run("it should describe the registrations", func(t *testing.T) {
		// GIVEN
		c := New()
		require.NoError(t, c.Register(newDatabase, Named("main"), Description("the main database"), WithReuse(Singleton)))
		require.NoError(t, c.RegisterDecorator(func(db *database) *database { return db }, Order(3)))
		_, err := ResolveNamed[*database](c, "main")
		require.NoError(t, err)

		// WHEN
		description := c.Describe()

		// THEN
		assert.Contains(t, description, "* Registrations:")
		assert.Contains(t, description, "*plandi.database (reuse=singleton)")
		assert.Contains(t, description, `key: "main"`)
		assert.Contains(t, description, "description: the main database")
		assert.Contains(t, description, "order: 3")
		assert.Contains(t, description, "* Singletons")
	})
}
