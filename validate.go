package plandi

import (
	"context"
	"fmt"
	"strings"

	"github.com/a-peyrard/plandi/runner"
	"github.com/a-peyrard/plandi/str"
)

// Validate builds the plan of every registration without creating any singleton,
// reporting all the registrations that cannot be resolved. Plans are built
// concurrently, at most Rules.ValidationConcurrency at once.
func (c *Container) Validate(ctx context.Context) error {
	if err := c.checkUsable(); err != nil {
		return err
	}

	regs := c.core.registry.registrations()
	runnables := make([]runner.Runnable, 0, len(regs))
	for _, reg := range regs {
		runnables = append(runnables, runner.RunnableFunc(func(context.Context) error {
			state := &buildState{container: c, noCache: true, noFolding: true}
			req := newRootRequest(reg.serviceType, reg.key, Throw, state)
			_, err := c.core.engine.buildFor(req, reg.factory)
			return err
		}))
	}

	if err := runner.RunEach(ctx, c.core.rules.ValidationConcurrency, runnables...); err != nil {
		return fmt.Errorf("%d registration(s) checked, some are not resolvable:\n\t%w", len(regs), err)
	}
	c.core.logger.Debug().Int("registrations", len(regs)).Msg("container validated")
	return nil
}

// Describe returns a human readable dump of the registrations, the open generics,
// the decorators and the state of the caches.
func (c *Container) Describe() string {
	r := c.core.registry
	var b strings.Builder

	b.WriteString("* Registrations:\n")
	for _, reg := range r.registrations() {
		describeFactory(&b, reg.factory, reg.serviceType.String(), reg.key)
	}

	b.WriteString("* Open generics:\n")
	for definition, entry := range r.openGenerics.Load().All() {
		for _, key := range entry.keys() {
			f, _ := entry.get(key)
			describeFactory(&b, f, string(definition), key)
		}
	}

	b.WriteString("* Decorators:\n")
	for t, decorators := range r.decorators.Load().All() {
		for _, d := range decorators {
			describeFactory(&b, d, t.String(), nil)
		}
	}
	for definition, decorators := range r.genericDecorators.Load().All() {
		for _, d := range decorators {
			describeFactory(&b, d, string(definition), nil)
		}
	}

	b.WriteString("* Cached resolutions: ")
	fmt.Fprintf(&b, "%d\n", c.core.engine.cacheSize())
	fmt.Fprintf(&b, "* Singletons (scope %s): %d\n", c.core.singletons.ID(), c.core.singletons.Len())
	if c.scope != nil {
		fmt.Fprintf(&b, "* Current scope %s: %d\n", c.scope, c.scope.Len())
	}
	return b.String()
}

func describeFactory(b *strings.Builder, f Factory, target string, key any) {
	factoryStr := fmt.Sprintf("%T", f)
	if s, ok := f.(fmt.Stringer); ok {
		factoryStr = s.String()
	}
	reuse := "default"
	if f.Reuse() != nil {
		reuse = f.Reuse().Name()
	}

	fmt.Fprintf(b, "\t- #%d %s (reuse=%s)\n", f.ID(), target, reuse)
	fmt.Fprintf(b, "\t\tfactory: %s\n", factoryStr)
	if key != nil {
		fmt.Fprintf(b, "\t\tkey: %s\n", describeKey(key))
	}
	setup := f.Setup()
	if setup.Description != "" {
		fmt.Fprintf(b, "\t\tdescription: %s\n", strings.TrimPrefix(str.Indent(setup.Description, "\t\t\t"), "\t\t\t"))
	}
	if setup.Metadata != nil {
		fmt.Fprintf(b, "\t\tmetadata: %v\n", setup.Metadata)
	}
	if setup.Condition != nil {
		b.WriteString("\t\tconditional\n")
	}
	if setup.Kind == DecoratorFactory {
		fmt.Fprintf(b, "\t\torder: %d\n", setup.Order)
	}
}
