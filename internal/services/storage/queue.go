package storage

import (
	"context"
	"encoding/binary"
	"fmt"
)

func headKey(name string) string { return name + "\x00head" }
func tailKey(name string) string { return name + "\x00tail" }
func elemKey(name string, index uint32) string {
	return fmt.Sprintf("%s\x00%d", name, index)
}

func readIndex(ctx context.Context, e Engine, key string) (uint32, error) {
	raw, ok, err := e.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("storage: corrupt index at %q: want 4 bytes, got %d", key, len(raw))
	}
	return binary.BigEndian.Uint32(raw), nil
}

func writeIndex(ctx context.Context, e Engine, key string, value uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], value)
	return e.Put(ctx, key, buf[:])
}

// enqueue appends value to the tail of the named FIFO queue and advances
// the tail index, wrapping at 2^32 (spec §4.3).
func enqueue(ctx context.Context, e Engine, name string, value []byte) error {
	tail, err := readIndex(ctx, e, tailKey(name))
	if err != nil {
		return err
	}
	if err := e.Put(ctx, elemKey(name, tail), value); err != nil {
		return err
	}
	return writeIndex(ctx, e, tailKey(name), tail+1)
}

// dequeue pops the head element of the named FIFO queue, returning
// (nil, false, nil) if the queue is empty (head == tail).
func dequeue(ctx context.Context, e Engine, name string) ([]byte, bool, error) {
	head, err := readIndex(ctx, e, headKey(name))
	if err != nil {
		return nil, false, err
	}
	tail, err := readIndex(ctx, e, tailKey(name))
	if err != nil {
		return nil, false, err
	}
	if head == tail {
		return nil, false, nil
	}
	value, ok, err := e.Get(ctx, elemKey(name, head))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// Index says an element exists but it is missing: report an error
		// rather than panicking a single-writer loop over corrupt state.
		return nil, false, fmt.Errorf("storage: queue %q element at index %d missing", name, head)
	}
	if err := e.Delete(ctx, elemKey(name, head)); err != nil {
		return nil, false, err
	}
	if err := writeIndex(ctx, e, headKey(name), head+1); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// queueDepth returns the number of elements currently enqueued, accounting
// for 32-bit wraparound.
func queueDepth(ctx context.Context, e Engine, name string) (uint32, error) {
	head, err := readIndex(ctx, e, headKey(name))
	if err != nil {
		return 0, err
	}
	tail, err := readIndex(ctx, e, tailKey(name))
	if err != nil {
		return 0, err
	}
	return tail - head, nil // unsigned subtraction wraps correctly
}
