package fn

// Option[A] represents a value which may or may not be there. This is very
// often preferable to nil-able pointers.
type Option[A any] struct {
	isSome bool
	some   A
}

// Some trivially injects a value into an optional context.
//
// Some : A -> Option[A].
func Some[A any](a A) Option[A] {
	return Option[A]{
		isSome: true,
		some:   a,
	}
}

// None trivially constructs an empty option.
//
// None : Option[A].
func None[A any]() Option[A] {
	return Option[A]{}
}

// OptionFromPtr constructs an option from a pointer, treating nil as None.
// This is the bridge between wire structs, which use pointers for optional
// JSON fields, and internal types.
func OptionFromPtr[A any](a *A) Option[A] {
	if a == nil {
		return None[A]()
	}

	return Some[A](*a)
}

// IsSome returns true if the Option contains a value.
func (o Option[A]) IsSome() bool {
	return o.isSome
}

// IsNone returns true if the Option is empty.
func (o Option[A]) IsNone() bool {
	return !o.isSome
}

// UnwrapOr is used to extract a value from an option, and we supply the
// default value in the case when the Option is empty.
//
// UnwrapOr : (Option[A], A) -> A.
func (o Option[A]) UnwrapOr(a A) A {
	if o.isSome {
		return o.some
	}

	return a
}

// UnwrapOrFunc is used to extract a value from an option, and we supply a
// thunk to be evaluated in the case when the Option is empty.
func (o Option[A]) UnwrapOrFunc(f func() A) A {
	if o.isSome {
		return o.some
	}

	return f()
}

// WhenSome is used to conditionally perform a side-effecting function that
// accepts a value of the type that parameterizes the option. If this function
// performs no side effects, WhenSome is useless.
func (o Option[A]) WhenSome(f func(A)) {
	if o.isSome {
		f(o.some)
	}
}

// UnwrapToPtr returns a pointer to a copy of the contained value, or nil if
// the option is empty.
func (o Option[A]) UnwrapToPtr() *A {
	if !o.isSome {
		return nil
	}

	a := o.some

	return &a
}

// MapOption transforms a pure function A -> B into one that will operate
// inside the Option context.
//
// MapOption : (A -> B) -> Option[A] -> Option[B].
func MapOption[A, B any](f func(A) B) func(Option[A]) Option[B] {
	return func(o Option[A]) Option[B] {
		if o.isSome {
			return Some(f(o.some))
		}

		return None[B]()
	}
}
