package stateform

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func benchValues(n int) Values {
	v := make(Values, n)
	for i := 0; i < n; i++ {
		v[fmt.Sprintf("field%03d", i)] = ""
	}
	return v
}

// Benchmark a single value change on forms of different sizes
func BenchmarkReduceSetValue(b *testing.B) {
	for _, size := range []int{1, 10, 100, 1000} {
		b.Run(fmt.Sprintf("fields_%d", size), func(b *testing.B) {
			s := stateWith(WithInitialValues(benchValues(size)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				Reduce(s, SetValue("field000", i))
			}
		})
	}
}

// Benchmark the no-op path
func BenchmarkReduceNoOp(b *testing.B) {
	s := stateWith(WithInitialValues(benchValues(100)))
	a := SetValue("field000", "")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Reduce(s, a)
	}
}

// Benchmark dispatch with synchronous validation
func BenchmarkFormSetValue(b *testing.B) {
	form := New(
		WithInitialValues(Values{"name": ""}),
		WithValidations(Validations{"name": func(v Value) bool { return v == "" }}),
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		form.SetValue("name", i)
	}
}

// Benchmark dispatch with deferred validation
func BenchmarkFormDeferredValidation(b *testing.B) {
	form := New(
		WithInitialValues(Values{"name": ""}),
		WithValidations(Validations{"name": func(_ context.Context, v Value) error { return nil }}),
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		form.SetValue("name", i)
	}
	form.Wait()
}

// Benchmark concurrent writers
func BenchmarkFormConcurrentDispatch(b *testing.B) {
	for _, writers := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("writers_%d", writers), func(b *testing.B) {
			form := New()
			var wg sync.WaitGroup
			per := b.N/writers + 1

			b.ResetTimer()
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					name := fmt.Sprintf("f%d", w)
					for i := 0; i < per; i++ {
						form.SetValue(name, i)
					}
				}(w)
			}
			wg.Wait()
			form.Wait()
		})
	}
}
