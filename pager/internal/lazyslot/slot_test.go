package lazyslot_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calvinalkan/pagecache/pager/internal/lazyslot"
)

func Test_ShouldInit_Grants_The_Win_To_Exactly_One_Caller(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	var wins atomic.Int32

	var wg sync.WaitGroup

	const n = 64

	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			<-start

			if s.ShouldInit() {
				wins.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("ShouldInit won by %d callers, want exactly 1", wins.Load())
	}
}

func Test_ShouldInit_Returns_False_Once_The_Slot_Has_A_Value(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	if !s.ShouldInit() {
		t.Fatalf("first ShouldInit should win")
	}

	v := 7
	s.Init(&v)

	if s.ShouldInit() {
		t.Fatalf("ShouldInit should not win again after Init")
	}
}

func Test_Get_Returns_The_Published_Value_After_Init(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	if !s.ShouldInit() {
		t.Fatalf("ShouldInit should win on an empty slot")
	}

	v := 42
	s.Init(&v)

	got, err := s.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if *got != 42 {
		t.Fatalf("Get() = %d, want 42", *got)
	}

	if refs := s.References(); refs != 2 {
		t.Fatalf("References() = %d, want 2 (Init's baseline + this Get)", refs)
	}
}

func Test_Get_Returns_The_Recorded_Error_After_Opps(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	if !s.ShouldInit() {
		t.Fatalf("ShouldInit should win on an empty slot")
	}

	loadErr := errors.New("boom")
	s.Opps(loadErr)

	_, err := s.Get()
	if !errors.Is(err, loadErr) {
		t.Fatalf("Get() error = %v, want %v", err, loadErr)
	}

	if s.References() != 0 {
		t.Fatalf("References() should be 0 in the Failed state")
	}
}

func Test_Get_Blocks_Until_Init_Is_Called(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	if !s.ShouldInit() {
		t.Fatalf("ShouldInit should win on an empty slot")
	}

	done := make(chan int, 1)

	go func() {
		got, err := s.Get()
		if err != nil {
			t.Error(err)

			return
		}

		done <- *got
	}()

	select {
	case <-done:
		t.Fatalf("Get() returned before Init was called")
	case <-time.After(30 * time.Millisecond):
	}

	v := 99
	s.Init(&v)

	select {
	case got := <-done:
		if got != 99 {
			t.Fatalf("Get() = %d, want 99", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("Get() never returned after Init")
	}
}

func Test_TryGet_Does_Not_Block_On_An_Empty_Or_Loading_Slot(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	_, found, err := s.TryGet()
	if found || err != nil {
		t.Fatalf("TryGet() on Empty slot = (_, %v, %v), want (_, false, nil)", found, err)
	}

	if !s.ShouldInit() {
		t.Fatalf("ShouldInit should win on an empty slot")
	}

	_, found, err = s.TryGet()
	if found || err != nil {
		t.Fatalf("TryGet() on Loading slot = (_, %v, %v), want (_, false, nil)", found, err)
	}

	v := 1
	s.Init(&v)

	got, found, err := s.TryGet()
	if !found || err != nil || *got != 1 {
		t.Fatalf("TryGet() after Init = (%v, %v, %v), want (1, true, nil)", got, found, err)
	}
}

func Test_Release_Balances_Get_And_Leaves_The_Baseline_Reference(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	if !s.ShouldInit() {
		t.Fatalf("ShouldInit should win on an empty slot")
	}

	v := 5
	s.Init(&v)

	if _, err := s.Get(); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if refs := s.References(); refs != 2 {
		t.Fatalf("References() = %d, want 2", refs)
	}

	s.Release()

	if refs := s.References(); refs != 1 {
		t.Fatalf("References() = %d, want 1 after Release", refs)
	}
}

func Test_Release_Panics_Without_A_Matching_Get(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on unmatched Release")
		}
	}()

	s.Release()
}

func Test_Reset_Fails_While_A_Caller_Still_Holds_A_Borrow(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	if !s.ShouldInit() {
		t.Fatalf("ShouldInit should win on an empty slot")
	}

	v := 3
	s.Init(&v)

	if _, err := s.Get(); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if _, ok := s.Reset(); ok {
		t.Fatalf("Reset() should fail while references > 1")
	}
}

func Test_Reset_Succeeds_When_Only_The_Baseline_Reference_Remains(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	if !s.ShouldInit() {
		t.Fatalf("ShouldInit should win on an empty slot")
	}

	v := 11
	s.Init(&v)

	ptr, ok := s.Reset()
	if !ok {
		t.Fatalf("Reset() should succeed when references == 1")
	}

	if *ptr != 11 {
		t.Fatalf("Reset() returned %d, want 11", *ptr)
	}

	if s.HasValue() {
		t.Fatalf("slot should have no value after Reset")
	}

	if !s.ShouldInit() {
		t.Fatalf("slot should be Empty again after Reset, so ShouldInit should win")
	}
}

func Test_Init_Panics_On_A_Nil_Pointer(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	if !s.ShouldInit() {
		t.Fatalf("ShouldInit should win on an empty slot")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on Init(nil)")
		}
	}()

	s.Init(nil)
}

func Test_Concurrent_Getters_All_Observe_The_Same_Value_And_One_Loader(t *testing.T) {
	t.Parallel()

	var s lazyslot.Slot[int]

	var loaders atomic.Int32

	var wg sync.WaitGroup

	const n = 32

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if s.ShouldInit() {
				loaders.Add(1)

				v := 123
				s.Init(&v)
			}

			got, err := s.Get()
			if err != nil {
				t.Error(err)

				return
			}

			if *got != 123 {
				t.Errorf("Get() = %d, want 123", *got)
			}

			s.Release()
		}()
	}

	wg.Wait()

	if loaders.Load() != 1 {
		t.Fatalf("%d callers won ShouldInit, want exactly 1", loaders.Load())
	}

	if refs := s.References(); refs != 1 {
		t.Fatalf("References() = %d, want 1 (only the baseline remains)", refs)
	}
}
