package pool

import (
	"sync"
	"testing"
)

func TestBytePool_GetReturnsFullLength(t *testing.T) {
	p := NewBytePool(4096)

	buf := p.Get()
	if len(buf) != 4096 {
		t.Errorf("len = %d, want 4096", len(buf))
	}
	if cap(buf) != 4096 {
		t.Errorf("cap = %d, want 4096", cap(buf))
	}
}

func TestBytePool_RecycledSliceRegainsLength(t *testing.T) {
	p := NewBytePool(1024)

	buf := p.Get()
	p.Put(buf[:10])

	// Whatever comes back, pooled or fresh, must be full length again.
	for i := 0; i < 5; i++ {
		got := p.Get()
		if len(got) != 1024 {
			t.Fatalf("len = %d, want 1024", len(got))
		}
		p.Put(got)
	}
}

func TestBytePool_RejectsForeignSlices(t *testing.T) {
	p := NewBytePool(512)

	p.Put(make([]byte, 100))
	p.Put(nil)

	if got := p.Get(); len(got) != 512 {
		t.Errorf("len = %d after foreign Put, want 512", len(got))
	}
}

func TestBytePool_Size(t *testing.T) {
	if got := NewBytePool(64).Size(); got != 64 {
		t.Errorf("Size() = %d, want 64", got)
	}
	if got := Sample.Size(); got != 128*1024 {
		t.Errorf("Sample.Size() = %d, want 128KB", got)
	}
}

func TestBytePool_Concurrent(t *testing.T) {
	p := NewBytePool(256)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				buf := p.Get()
				if len(buf) != 256 {
					t.Errorf("len = %d, want 256", len(buf))
					return
				}
				buf[0] = byte(i)
				p.Put(buf)
			}
		}()
	}
	wg.Wait()
}

func BenchmarkBytePool_GetPut(b *testing.B) {
	p := NewBytePool(64 * 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := p.Get()
		p.Put(buf)
	}
}
