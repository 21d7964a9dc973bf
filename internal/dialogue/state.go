package dialogue

const (
	OriginClassifier = "classifier"
	OriginDuplicates = "duplicates"
)

// State is either Idle or AwaitingClarification.
type State interface {
	state()
}

type Idle struct{}

func (Idle) state() {}

type AwaitingClarification struct {
	Context ClarificationContext
}

func (AwaitingClarification) state() {}

// ClarificationContext is the pending question of an open clarification round.
type ClarificationContext struct {
	PendingQuestion   string
	OriginalQuery     string
	JoinType          string
	DuplicateHandling bool
	// PriorResultSample holds the first rows of the result that raised a
	// duplicates round.
	PriorResultSample [][]any
	Origin            string
}
