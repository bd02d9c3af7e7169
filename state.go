package pmbox

import "fmt"

// Read state tokens accepted by ToggleRead and BatchStarOrRead.
// A token names the state the caller believes the message is in;
// the operation flips it to the opposite state.
const (
	StateRead   = "read"
	StateUnread = "unread"
)

// Star state tokens accepted by BatchStarOrRead. ToggleStar does not
// take a token; it flips whatever the current state is.
const (
	StateStarred   = "starred"
	StateUnstarred = "unstarred"
)

// readStateLabel returns the token describing the given read flag.
func readStateLabel(read bool) string {
	if read {
		return StateRead
	}
	return StateUnread
}

// starStateLabel returns the token describing the given star flag.
func starStateLabel(starred bool) string {
	if starred {
		return StateStarred
	}
	return StateUnstarred
}

// parseReadState maps a read state token to its boolean value.
func parseReadState(token string) (read bool, err error) {
	switch token {
	case StateRead:
		return true, nil
	case StateUnread:
		return false, nil
	default:
		return false, &InputError{Field: "state", Message: fmt.Sprintf("unrecognized read state %q", token)}
	}
}

// parseBatchState maps a batch state token to the operation it requests.
// Read tokens request a read flip, star tokens request a star flip.
func parseBatchState(token string) (op batchOp, err error) {
	switch token {
	case StateRead:
		return batchOp{kind: batchRead, current: true}, nil
	case StateUnread:
		return batchOp{kind: batchRead, current: false}, nil
	case StateStarred:
		return batchOp{kind: batchStar, current: true}, nil
	case StateUnstarred:
		return batchOp{kind: batchStar, current: false}, nil
	default:
		return batchOp{}, &InputError{Field: "states", Message: fmt.Sprintf("unrecognized state token %q", token)}
	}
}

type batchKind int

const (
	batchRead batchKind = iota
	batchStar
)

// batchOp is one decoded batch instruction: which flag to flip and the
// state the caller last observed.
type batchOp struct {
	kind    batchKind
	current bool
}
