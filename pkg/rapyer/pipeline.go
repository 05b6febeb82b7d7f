package rapyer

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
)

// PipelineOptions configures a pipeline session.
type PipelineOptions struct {
	// IgnoreIfDeleted silently drops the batch when an enrolled document was
	// deleted between entry and commit, instead of writing to a ghost key.
	IgnoreIfDeleted bool
}

// Pipeline batches the remote commands of its scope into one atomic
// submission. Remote-effecting proxy calls still mutate local state
// immediately; only their store commands are queued. On a failed scope the
// queue is discarded and the store is untouched, but local mutations are
// not reverted — reload the enrolled models if convergence matters.
type Pipeline struct {
	cli     *Client
	opts    PipelineOptions
	roots   []*Base
	existed []bool
	cmds    []store.Command
}

func (p *Pipeline) enqueue(cmds ...store.Command) {
	p.cmds = append(p.cmds, cmds...)
}

// Len reports the number of queued commands.
func (p *Pipeline) Len() int { return len(p.cmds) }

// WithPipeline refreshes the enrolled root models from the store, runs fn
// with their remote-effecting operations queued, and on a nil return
// submits the queue as one atomic transaction spanning every enrolled
// document. An error (or panic) from fn discards the queue. Documents
// missing at entry are tolerated; they may be created in scope.
func WithPipeline(ctx context.Context, opts PipelineOptions, fn func(context.Context) error, models ...Model) error {
	if len(models) == 0 {
		return fmt.Errorf("rapyer: pipeline needs at least one model")
	}
	p := &Pipeline{opts: opts}
	for _, m := range models {
		b := m.base()
		if b.parent != nil {
			return ErrNotTopLevel
		}
		if b.pipe != nil {
			return fmt.Errorf("%w: %s is already enrolled in a pipeline", ErrNotSupportedInPipeline, b.Key())
		}
		if p.cli == nil {
			p.cli = b.cli
		} else if p.cli != b.cli {
			return fmt.Errorf("rapyer: pipeline models span different clients")
		}
		p.roots = append(p.roots, b)
	}

	for _, b := range p.roots {
		existed := true
		if err := b.Load(ctx); err != nil {
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			existed = false
		}
		p.existed = append(p.existed, existed)
	}

	for _, b := range p.roots {
		b.pipe = p
	}
	defer func() {
		for _, b := range p.roots {
			b.pipe = nil
		}
	}()

	if err := fn(ctx); err != nil {
		glog.V(2).Infof("rapyer: pipeline discarded %d commands: %v", len(p.cmds), err)
		return err
	}
	return p.commit(ctx)
}

func (p *Pipeline) commit(ctx context.Context) error {
	if len(p.cmds) == 0 {
		return nil
	}
	if p.opts.IgnoreIfDeleted {
		for i, b := range p.roots {
			if !p.existed[i] {
				continue
			}
			ok, err := p.cli.backend.Exists(ctx, b.Key())
			if err != nil {
				return err
			}
			if !ok {
				glog.V(2).Infof("rapyer: pipeline dropped, %s deleted in flight", b.Key())
				return nil
			}
		}
	}
	glog.V(2).Infof("rapyer: pipeline committing %d commands", len(p.cmds))
	return p.cli.backend.Exec(ctx, p.cmds...)
}
