package maybe

// Maybe is an optional value. The zero value is None.
type Maybe[T any] struct {
	val T
	ok  bool
}

func None[T any]() Maybe[T] {
	return Maybe[T]{}
}

func Some[T any](val T) Maybe[T] {
	return Maybe[T]{val: val, ok: true}
}

func Pack[T any](val T, ok bool) Maybe[T] {
	if !ok {
		return None[T]()
	}
	return Some(val)
}

func (m Maybe[T]) IsNone() bool { return !m.ok }
func (m Maybe[T]) IsSome() bool { return m.ok }

func (m Maybe[T]) Get() T {
	if !m.ok {
		panic("get from none")
	}
	return m.val
}

func (m Maybe[T]) TryGet() (T, bool) {
	return m.val, m.ok
}

func (m Maybe[T]) GetOr(def T) T {
	if !m.ok {
		return def
	}
	return m.val
}
