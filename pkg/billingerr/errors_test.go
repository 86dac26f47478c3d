package billingerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersistenceWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Persistence("ledger.apply_delta", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ledger.apply_delta")
}

func TestPersistenceNilAndIdempotent(t *testing.T) {
	assert.NoError(t, Persistence("noop", nil))

	once := Persistence("first", errors.New("timeout"))
	twice := Persistence("second", once)
	assert.Equal(t, once, twice)
}

func TestConfiguration(t *testing.T) {
	err := Configuration("unknown plan tier %q", "gold")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), `"gold"`)
}
