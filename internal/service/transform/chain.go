package transform

import "fmt"

// Chain applies programs in order.
type Chain struct {
	programs []Program
}

// NewChain returns a chain over programs.
func NewChain(programs ...Program) *Chain {
	return &Chain{programs: programs}
}

// Len returns the number of programs in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.programs)
}

// Apply runs every program over record. A nil map means a program dropped
// the record; the error names the failing program.
func (c *Chain) Apply(record map[string]any) (map[string]any, error) {
	if c == nil {
		return record, nil
	}
	cur := record
	for _, p := range c.programs {
		next, err := p.Apply(cur)
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", p.Name(), err)
		}
		if next == nil {
			return nil, nil
		}
		cur = next
	}
	return cur, nil
}
