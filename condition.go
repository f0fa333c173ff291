package plandi

import "github.com/a-peyrard/plandi/option"

type (
	// condition is checked once, at registration time, against a string service
	// registered under a name (an environment variable, a config field...).
	condition struct {
		namedStringComponent string
		operator             operator
		value                string
	}

	operator = func(string, string) bool

	ConditionNameBuilder struct {
		namedStringComponent string
	}
)

//goland:noinspection GoVarAndConstTypeMayBeOmitted
var (
	equals operator = func(a, b string) bool {
		return a == b
	}

	notEquals operator = func(a, b string) bool {
		return a != b
	}
)

// When starts a registration condition on the string service named namedStringComponent.
// The registration is skipped when the condition does not hold, or when the string
// cannot be resolved.
func When(namedStringComponent string) ConditionNameBuilder {
	return ConditionNameBuilder{
		namedStringComponent: namedStringComponent,
	}
}

func (cn ConditionNameBuilder) Equals(value string) option.Option[RegisterOptions] {
	return cn.with(equals, value)
}

func (cn ConditionNameBuilder) NotEquals(value string) option.Option[RegisterOptions] {
	return cn.with(notEquals, value)
}

func (cn ConditionNameBuilder) with(op operator, value string) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.conditions = append(
			opts.conditions,
			condition{
				namedStringComponent: cn.namedStringComponent,
				operator:             op,
				value:                value,
			},
		)
	}
}

func (c *Container) validateCondition(cond condition) bool {
	val, found, err := TryResolveKeyed[string](c, cond.namedStringComponent)
	if err != nil || !found {
		return false
	}
	return cond.operator(val, cond.value)
}
