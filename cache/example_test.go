package cache_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/apikit/cache"
	"github.com/jonwraymond/apikit/storage"
)

func ExampleResource_Get() {
	ctx := context.Background()
	quotes := cache.NewResource[string, string](cache.DefaultPolicy(), cache.WithName("quotes"))

	fetches := 0
	fetch := func(ctx context.Context) (string, error) {
		fetches++
		return "stay hungry", nil
	}

	for i := 0; i < 3; i++ {
		q, _ := quotes.Get(ctx, "daily", fetch, time.Minute)
		fmt.Println(q)
	}
	fmt.Println("fetches:", fetches)
	// Output:
	// stay hungry
	// stay hungry
	// stay hungry
	// fetches: 1
}

func ExampleResource_GetStale() {
	ctx := context.Background()
	r := cache.NewResource[int, string](cache.NoCachePolicy())

	_, _ = r.Get(ctx, 1, func(context.Context) (string, error) { return "v1", nil }, 0)
	v, stale, err := r.GetStale(ctx, 1, func(context.Context) (string, error) {
		return "", errors.New("upstream down")
	}, 0)
	fmt.Println(v, stale, err)
	// Output:
	// v1 true upstream down
}

func ExampleResource_Flush() {
	ctx := context.Background()
	st := storage.NewMemoryStorage()

	r := cache.NewResource[string, int](cache.DefaultPolicy(), cache.WithStorage(st, "scores"))
	_, _ = r.Get(ctx, "ada", func(context.Context) (int, error) { return 10, nil }, 0)
	_ = r.Flush(ctx)

	restored := cache.NewResource[string, int](cache.DefaultPolicy(), cache.WithStorage(st, "scores"))
	_ = restored.Load(ctx)
	e, _ := restored.Peek("ada")
	fmt.Println(e.Value, e.State(time.Now()))
	// Output:
	// 10 fresh
}
