package batch

import (
	"sort"

	"github.com/jacentio/catalog/product"
	"github.com/jacentio/catalog/store"
)

// Success describes one applied request.
type Success struct {
	Index        int              `json:"index"`
	Op           string           `json:"op"`
	ID           string           `json:"id"`
	PartitionKey string           `json:"partition_key"`
	Item         *product.Product `json:"item,omitempty"`
}

// Failure describes one request that was not applied, or whose outcome is unknown.
type Failure struct {
	Index        int    `json:"index"`
	Op           string `json:"op"`
	ID           string `json:"id,omitempty"`
	PartitionKey string `json:"partition_key"`
	Kind         string `json:"error"`
	Status       int    `json:"status"`
	Message      string `json:"message"`
	Unknown      bool   `json:"outcome_unknown,omitempty"`
}

// Result is the merged answer for a whole batch. Partial failure is data,
// not an error.
type Result struct {
	Succeeded []Success `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// Aggregate flattens per-group outcomes into one result ordered by request
// index.
func Aggregate(perGroup [][]Outcome) Result {
	res := Result{
		Succeeded: []Success{},
		Failed:    []Failure{},
	}
	for _, outcomes := range perGroup {
		for _, o := range outcomes {
			if o.Succeeded {
				res.Succeeded = append(res.Succeeded, Success{
					Index:        o.Index,
					Op:           o.Kind.String(),
					ID:           o.ID,
					PartitionKey: o.PartitionKey,
					Item:         o.Item,
				})
				continue
			}
			res.Failed = append(res.Failed, failure(o))
		}
	}
	sort.Slice(res.Succeeded, func(i, j int) bool { return res.Succeeded[i].Index < res.Succeeded[j].Index })
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].Index < res.Failed[j].Index })
	return res
}

func failure(o Outcome) Failure {
	err := o.Err
	if err == nil {
		err = store.Unavailable(o.Kind.String(), nil)
	}
	f := Failure{
		Index:        o.Index,
		Op:           o.Kind.String(),
		ID:           o.ID,
		PartitionKey: o.PartitionKey,
		Kind:         err.Kind.String(),
		Status:       err.Status,
		Message:      err.Message,
		Unknown:      o.Unknown,
	}
	// Transport detail stays in the logs.
	if err.Kind == store.KindStoreUnavailable {
		f.Status = err.Kind.Status()
		f.Message = "store unavailable"
		if o.Unknown {
			f.Message = "store unavailable; the write may or may not have been applied"
		}
	}
	return f
}
