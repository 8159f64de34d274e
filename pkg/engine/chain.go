package engine

// ProcessorChain manages a sequential list of processors.
type ProcessorChain struct {
	processors []Processor
}

// NewProcessorChain creates a chain with the given list of processors.
func NewProcessorChain(processors ...Processor) *ProcessorChain {
	return &ProcessorChain{
		processors: processors,
	}
}

// Append returns a new chain with more processors at the end.
func (c *ProcessorChain) Append(processors ...Processor) *ProcessorChain {
	all := make([]Processor, 0, len(c.processors)+len(processors))
	all = append(all, c.processors...)
	all = append(all, processors...)
	return &ProcessorChain{processors: all}
}

// Process runs the item through all processors in the chain.
// It stops if a processor returns drop=true or an error; on drop the
// processor name is recorded in ctx.DroppedBy.
func (c *ProcessorChain) Process(ctx *ProcessingContext, item map[string]any) (map[string]any, bool, error) {
	var drop bool
	var err error

	for _, p := range c.processors {
		item, drop, err = p.Process(ctx, item)
		if err != nil {
			return item, false, err
		}
		if drop {
			if ctx != nil {
				ctx.DroppedBy = p.Name()
			}
			return item, true, nil
		}
	}

	return item, false, nil
}
