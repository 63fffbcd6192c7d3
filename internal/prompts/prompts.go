// Package prompts defines the annotation tasks that are sent to the batch
// service: how a unit becomes chat messages and where its answer lands.
package prompts

import (
	"fmt"
	"sort"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
	"github.com/MikeSquared-Agency/cwbatch/internal/conversation"
	"github.com/MikeSquared-Agency/cwbatch/internal/reconcile"
)

// Input is the per-row material a prompt is rendered from.
type Input struct {
	ConversationID string
	Turn           int
	Statement      int
	Utterance      string
	Context        string
	Question       string
	Claim          string
}

// Variant is one annotation task.
type Variant struct {
	Name string
	// WithStatement selects conv_turn_statement custom ids; otherwise conv_turn.
	WithStatement bool
	// Explode marks tasks whose answer is a list of claims.
	Explode bool
	// Column receives the reconciled answer.
	Column string
	// Bracketed answers carry their label as [[Label]].
	Bracketed bool
	// Labels, when set, is the closed label set answers are normalized to.
	Labels    []string
	MaxTokens int
	// Requires lists the table columns the task reads.
	Requires []string

	system string
	render func(Input) string
	ready  func(Input) bool
}

// Messages renders the chat messages for in.
func (v Variant) Messages(in Input) []batch.Message {
	var msgs []batch.Message
	if v.system != "" {
		msgs = append(msgs, batch.Message{Role: "system", Content: v.system})
	}
	return append(msgs, batch.Message{Role: "user", Content: v.render(in)})
}

// Ready reports whether in carries the fields the task cannot do without.
func (v Variant) Ready(in Input) bool {
	if in.ConversationID == "" {
		return false
	}
	return v.ready == nil || v.ready(in)
}

// Key returns the identity a request for in is submitted under.
func (v Variant) Key(in Input) reconcile.Key {
	return reconcile.Key{
		ConversationID: in.ConversationID,
		Turn:           in.Turn,
		Statement:      in.Statement,
		HasStatement:   v.WithStatement,
	}
}

// Shape is the custom_id shape answers come back under.
func (v Variant) Shape() reconcile.Shape {
	if v.WithStatement {
		return reconcile.ShapeStatement
	}
	return reconcile.ShapeTurn
}

// Request builds the batch request for in.
func (v Variant) Request(in Input, model string, maxTokens int) batch.Request {
	if maxTokens <= 0 {
		maxTokens = v.MaxTokens
	}
	return batch.NewRequest(v.Key(in).String(), model, v.Messages(in), maxTokens)
}

var cwLabels = []string{"NFS", "UFS", "CFS"}

var taskLabels = []string{
	"Information seeking",
	"Creative Writing",
	"Editing",
	"Reasoning",
	"Brainstorming",
	"Planning",
	"Role playing",
	"Others",
}

var registry = map[string]Variant{
	"extraction": {
		Name:      "extraction",
		Explode:   true,
		Column:    reconcile.ColFactualStatements,
		MaxTokens: 1000,
		Requires: []string{
			conversation.ColTurnNum,
			conversation.ColContext,
			conversation.ColUserQuestion,
			conversation.ColSelectedText,
		},
		render: func(in Input) string {
			return fmt.Sprintf(extractionPrompt, in.Context, in.Question, in.Utterance)
		},
		ready: func(in Input) bool { return in.Utterance != "" },
	},
	"cw-majer": {
		Name:          "cw-majer",
		WithStatement: true,
		Column:        "CW_Majer",
		Labels:        cwLabels,
		MaxTokens:     1000,
		Requires:      cwRequires,
		system:        helpfulSystemPrompt,
		render: func(in Input) string {
			return fmt.Sprintf(majerPrompt, in.Claim, in.Context)
		},
		ready: claimReady,
	},
	"cw-hassan": {
		Name:          "cw-hassan",
		WithStatement: true,
		Column:        "CW_Hassan",
		Labels:        cwLabels,
		MaxTokens:     1000,
		Requires:      cwRequires,
		system:        helpfulSystemPrompt,
		render: func(in Input) string {
			return fmt.Sprintf(hassanPrompt, in.Claim, in.Context)
		},
		ready: claimReady,
	},
	"task": {
		Name:      "task",
		Column:    "Task_Category",
		Labels:    taskLabels,
		MaxTokens: 1000,
		Requires: []string{
			conversation.ColTurnNum,
			conversation.ColContext,
			conversation.ColSelectedText,
		},
		system: taskSystemPrompt,
		render: func(in Input) string {
			return fmt.Sprintf(taskPrompt, in.Utterance, in.Context)
		},
		ready: func(in Input) bool { return in.Utterance != "" },
	},
	"topic": {
		Name:      "topic",
		Column:    "Label",
		Bracketed: true,
		Labels:    []string{"Math", "Coding", "Others"},
		MaxTokens: 20,
		Requires: []string{
			conversation.ColTurnNum,
			conversation.ColUserQuestion,
			conversation.ColSelectedText,
		},
		system: topicSystemPrompt,
		render: func(in Input) string {
			return fmt.Sprintf(topicPrompt, in.Question, in.Utterance)
		},
		ready: func(in Input) bool { return in.Utterance != "" },
	},
}

var cwRequires = []string{
	conversation.ColTurnNum,
	conversation.ColContext,
	reconcile.ColStatementIndex,
	reconcile.ColStatement,
}

func claimReady(in Input) bool { return in.Claim != "" && in.Context != "" }

// Lookup returns the named variant.
func Lookup(name string) (Variant, error) {
	v, ok := registry[name]
	if !ok {
		return Variant{}, fmt.Errorf("unknown prompt variant %q (known: %v)", name, Names())
	}
	return v, nil
}

// Names lists the registered variants in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
