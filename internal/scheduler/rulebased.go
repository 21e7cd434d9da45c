package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nodeforge/proxypool/internal/scheduler/rule"
	"github.com/nodeforge/proxypool/internal/store"
)

// Rule is one entry of a RuleBased scheduler's ordered rule list.
type Rule struct {
	Name      string
	Condition string
	Priority  float64
}

// RuleBased scores each candidate as the sum of priorities of every rule
// whose condition evaluates true, and picks the argmax, breaking ties by
// ascending node ID (spec.md §4.2.4).
type RuleBased struct {
	store store.Store

	mu      sync.RWMutex
	rules   []Rule
	compile map[string]*rule.Condition
	onError func(ruleName string, err error)
}

// NewRuleBased constructs an empty Rule-Based scheduler backed by s.
func NewRuleBased(s store.Store) *RuleBased {
	return &RuleBased{store: s, compile: make(map[string]*rule.Condition)}
}

func (rb *RuleBased) Name() string { return "rule_based" }

// SetErrorHandler installs a callback invoked whenever a rule's condition
// fails to compile or evaluate. Errors are otherwise swallowed per spec
// (the offending rule simply contributes zero).
func (rb *RuleBased) SetErrorHandler(fn func(ruleName string, err error)) {
	rb.mu.Lock()
	rb.onError = fn
	rb.mu.Unlock()
}

func (rb *RuleBased) reportError(name string, err error) {
	if rb.onError != nil {
		rb.onError(name, err)
	}
}

// Add appends a rule to the end of the ordered list and invalidates the
// compiled-condition cache.
func (rb *RuleBased) Add(r Rule) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.rules = append(rb.rules, r)
	rb.compile = make(map[string]*rule.Condition)
}

// Remove deletes the rule with the given name, if present, and invalidates
// the compiled-condition cache.
func (rb *RuleBased) Remove(name string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	kept := rb.rules[:0]
	for _, r := range rb.rules {
		if r.Name != name {
			kept = append(kept, r)
		}
	}
	rb.rules = kept
	rb.compile = make(map[string]*rule.Condition)
}

// Clear removes every rule and invalidates the compiled-condition cache.
func (rb *RuleBased) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.rules = nil
	rb.compile = make(map[string]*rule.Condition)
}

// Rules returns a snapshot of the current ordered rule list.
func (rb *RuleBased) Rules() []Rule {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	out := make([]Rule, len(rb.rules))
	copy(out, rb.rules)
	return out
}

// compiled returns the cached Condition for src, compiling and caching it on
// a miss. Callers hold rb.mu for writing.
func (rb *RuleBased) compiled(src string) (*rule.Condition, error) {
	if c, ok := rb.compile[src]; ok {
		return c, nil
	}
	c, err := rule.Compile(src)
	if err != nil {
		return nil, err
	}
	rb.compile[src] = c
	return c, nil
}

func (rb *RuleBased) score(n *store.Node) float64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var total float64
	for _, r := range rb.rules {
		cond, err := rb.compiled(r.Condition)
		if err != nil {
			rb.reportError(r.Name, fmt.Errorf("compile: %w", err))
			continue
		}
		matched, err := cond.Eval(n)
		if err != nil {
			rb.reportError(r.Name, fmt.Errorf("eval: %w", err))
			continue
		}
		if matched {
			total += r.Priority
		}
	}
	return total
}

func (rb *RuleBased) Pick(ctx context.Context) (*store.Node, error) {
	pool, err := candidates(ctx, rb.store)
	if err != nil {
		recordPick(rb.Name(), "error")
		return nil, err
	}
	if len(pool) == 0 {
		recordPick(rb.Name(), "empty_pool")
		return nil, nil
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	best := pool[0]
	bestScore := rb.score(best)
	for _, n := range pool[1:] {
		s := rb.score(n)
		if s > bestScore {
			best = n
			bestScore = s
		}
	}

	if err := rb.store.IncrementConnections(ctx, best.ID); err != nil {
		recordPick(rb.Name(), "error")
		return nil, err
	}
	best.CurrentConnections++
	recordPick(rb.Name(), "picked")
	return best, nil
}

func (rb *RuleBased) ReportSuccess(ctx context.Context, nodeID int64, _ float64) error {
	recordFeedback(rb.Name(), "success")
	return decrementAndReconcile(ctx, rb.store, nodeID)
}

func (rb *RuleBased) ReportFailure(ctx context.Context, nodeID int64, _ string) error {
	recordFeedback(rb.Name(), "failure")
	return decrementAndReconcile(ctx, rb.store, nodeID)
}
