package blobs

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PutGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	data := []byte("hello")
	require.NoError(t, m.Put(ctx, "files/f1", data, "text/plain"))
	data[0] = 'j'

	got, err := m.Get(ctx, "files/f1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got), "stored bytes are copied")

	assert.Equal(t, []string{"files/f1"}, m.Keys())

	require.NoError(t, m.Delete(ctx, "files/f1"))
	require.NoError(t, m.Delete(ctx, "files/f1"), "delete is idempotent")

	_, err = m.Get(ctx, "files/f1")
	assert.True(t, IsNotFound(err))
}

func TestMemory_FaultHook(t *testing.T) {
	m := NewMemory()
	m.SetFaultHook(func(op, key string) error {
		if op == "put" {
			return common.Transient("put", errors.New("503"))
		}
		return nil
	})

	err := m.Put(context.Background(), "k", []byte("x"), "")
	assert.True(t, common.IsTransient(err))
	assert.Empty(t, m.Keys())
}
