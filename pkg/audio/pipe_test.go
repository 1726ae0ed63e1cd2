package audio

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestPipeDeliversWritesInOrder(t *testing.T) {
	p := NewPipe(8)
	if _, err := p.Write([]byte{1, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := p.Write([]byte{3, 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = p.Close()

	got, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("read %v, want [1 2 3 4]", got)
	}
}

func TestPipeReadBlocksUntilWrite(t *testing.T) {
	p := NewPipe(8)
	out := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		n, err := p.Read(buf)
		if err == nil {
			out <- buf[:n]
		}
	}()

	time.Sleep(10 * time.Millisecond)
	if _, err := p.Write([]byte{9, 9}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case got := <-out:
		if !bytes.Equal(got, []byte{9, 9}) {
			t.Fatalf("read %v, want [9 9]", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader not unblocked by write")
	}
}

func TestPipeDropsOldestWhenFull(t *testing.T) {
	p := NewPipe(2)
	_, _ = p.Write([]byte{1})
	_, _ = p.Write([]byte{2})
	_, _ = p.Write([]byte{3})
	_ = p.Close()

	got, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte{2, 3}) {
		t.Fatalf("read %v, want the two newest chunks [2 3]", got)
	}
}

func TestPipeWriteAfterCloseFails(t *testing.T) {
	p := NewPipe(4)
	_ = p.Close()
	if _, err := p.Write([]byte{1}); err != io.ErrClosedPipe {
		t.Fatalf("write after close = %v, want io.ErrClosedPipe", err)
	}
	buf := make([]byte, 4)
	if _, err := p.Read(buf); err != io.EOF {
		t.Fatalf("read after close = %v, want io.EOF", err)
	}
}

func TestPipePartialReadKeepsRemainder(t *testing.T) {
	p := NewPipe(4)
	_, _ = p.Write([]byte{1, 2, 3, 4})
	buf := make([]byte, 2)
	n, err := p.Read(buf)
	if err != nil || n != 2 || !bytes.Equal(buf, []byte{1, 2}) {
		t.Fatalf("first read = %v (n=%d, err=%v), want [1 2]", buf, n, err)
	}
	n, err = p.Read(buf)
	if err != nil || n != 2 || !bytes.Equal(buf, []byte{3, 4}) {
		t.Fatalf("second read = %v (n=%d, err=%v), want [3 4]", buf, n, err)
	}
}
