package reconcile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
)

// Shape is the number of trailing numeric segments a custom_id carries.
type Shape int

const (
	// ShapeTurn ids look like conv_turn.
	ShapeTurn Shape = iota
	// ShapeStatement ids look like conv_turn_statement.
	ShapeStatement
)

func (s Shape) segments() int {
	if s == ShapeStatement {
		return 2
	}
	return 1
}

// ErrMalformedID is returned for custom_ids that do not match their shape.
var ErrMalformedID = errors.New("malformed custom_id")

// Key is the composite identity of a request and the row it belongs to.
type Key struct {
	ConversationID string
	Turn           int
	Statement      int
	HasStatement   bool
}

// String renders the key as a custom_id.
func (k Key) String() string {
	if k.HasStatement {
		return batch.BuildCustomID(k.ConversationID, k.Turn, k.Statement)
	}
	return batch.BuildCustomID(k.ConversationID, k.Turn)
}

// ParseCustomID splits id from the right, taking exactly the trailing numeric
// segments shape calls for. Whatever remains is the conversation id, which
// may itself contain the separator.
func ParseCustomID(id string, shape Shape) (Key, error) {
	rest := id
	nums := make([]int, shape.segments())
	for i := len(nums) - 1; i >= 0; i-- {
		cut := strings.LastIndex(rest, batch.IDSeparator)
		if cut <= 0 {
			return Key{}, fmt.Errorf("%w: %q", ErrMalformedID, id)
		}
		n, ok := parseIndex(rest[cut+len(batch.IDSeparator):])
		if !ok {
			return Key{}, fmt.Errorf("%w: %q", ErrMalformedID, id)
		}
		nums[i] = n
		rest = rest[:cut]
	}

	k := Key{ConversationID: rest, Turn: nums[0]}
	if shape == ShapeStatement {
		k.Statement = nums[1]
		k.HasStatement = true
	}
	return k, nil
}

// parseIndex accepts only unsigned decimal digits.
func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}
