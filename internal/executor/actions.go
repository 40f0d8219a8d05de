package executor

import (
	"context"
	"fmt"

	"github.com/yairfalse/siivous/internal/plugin"
	"github.com/yairfalse/siivous/pkg/resource"
)

// dispatch performs the provider call for req.
func dispatch(ctx context.Context, actor plugin.Actor, req Request) error {
	ref := req.Resource.Ref()

	switch req.Op {
	case resource.OpTagSet:
		if len(req.Tags) == 0 {
			return nil
		}
		return actor.SetTags(ctx, ref, req.Tags)
	case resource.OpTagUnset:
		if len(req.Keys) == 0 {
			return nil
		}
		return actor.UnsetTags(ctx, ref, req.Keys)
	case resource.OpStop:
		if ref.Kind != resource.KindInstance {
			return fmt.Errorf("cannot stop a %s", ref.Kind)
		}
		return actor.Stop(ctx, ref)
	case resource.OpTerminate:
		if ref.Kind != resource.KindInstance {
			return fmt.Errorf("cannot terminate a %s", ref.Kind)
		}
		return actor.Terminate(ctx, ref)
	case resource.OpDelete:
		if ref.Kind == resource.KindInstance {
			return fmt.Errorf("instances are terminated, not deleted")
		}
		return actor.Delete(ctx, ref)
	default:
		return fmt.Errorf("unknown op: %s", req.Op)
	}
}
