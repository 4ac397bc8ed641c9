package main

import (
	"log/slog"

	"github.com/vango-dev/socksync/internal/config"
	"github.com/vango-dev/socksync/internal/errors"
	"github.com/vango-dev/socksync/pkg/group"
)

// groups is the result of building the registry from a config.
type groups struct {
	registry *group.Registry

	// snapshot holds the lists declared with snapshot = true.
	snapshot []*group.List

	// local holds the builtin functions, closed on shutdown.
	local []*group.LocalFunction
}

// close cancels running builtin invocations and waits for their replies.
func (g *groups) close() {
	for _, f := range g.local {
		f.Close()
	}
	for _, f := range g.local {
		f.Wait()
	}
}

// buildGroups creates one group per [[group]] entry of cfg. cfg must have
// passed Validate.
func buildGroups(cfg *config.Config, logger *slog.Logger) (*groups, error) {
	out := &groups{registry: group.NewRegistry()}

	for _, gc := range cfg.Groups {
		opts := []group.Option{
			group.WithSubscribable(gc.IsSubscribable()),
			group.WithLogger(logger),
		}

		var g group.Group
		switch gc.Kind {
		case config.KindVar:
			g = group.NewVariable[any](gc.Name, gc.Value, opts...)

		case config.KindList:
			opts = append(opts, group.WithPeerSetAll(gc.PeerSetAll))
			l := group.NewList(gc.Name, gc.PageSize, opts...)
			if len(gc.Items) > 0 {
				items := make([]group.ListItem, len(gc.Items))
				for i, it := range gc.Items {
					items[i] = group.ListItem{ID: it.ID, Value: it.Value}
				}
				if err := l.SetAll(items); err != nil {
					return nil, errors.New("S161").WithDetailf("list %s: initial items", gc.Name).Wrap(err)
				}
			}
			if gc.Snapshot {
				out.snapshot = append(out.snapshot, l)
			}
			g = l

		case config.KindFunction:
			if gc.CallTimeout.Duration > 0 {
				opts = append(opts, group.WithCallTimeout(gc.CallTimeout.Duration))
			}
			if gc.Remote {
				g = group.NewRemoteFunction(gc.Name, opts...)
				break
			}
			fn, ok := builtins[gc.Builtin]
			if !ok {
				return nil, errors.New("S161").WithDetailf("function %s: unknown builtin %q", gc.Name, gc.Builtin)
			}
			opts = append(opts, group.WithMaxConcurrent(gc.MaxConcurrent))
			f := group.NewLocalFunction(gc.Name, fn, opts...)
			out.local = append(out.local, f)
			g = f

		default:
			return nil, errors.New("S161").WithDetailf("group %s: unknown kind %q", gc.Name, gc.Kind)
		}

		if err := out.registry.Register(g); err != nil {
			return nil, errors.New("S161").Wrap(err)
		}
	}
	return out, nil
}
