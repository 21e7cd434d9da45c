package rule

import "github.com/nodeforge/proxypool/internal/store"

// Eval interprets the condition against n and returns whether it matched.
func (c *Condition) Eval(n *store.Node) (bool, error) {
	v, err := c.root.Eval(n)
	if err != nil {
		return false, err
	}
	return v.truthy(), nil
}
