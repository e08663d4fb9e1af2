// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefresh_LoadsReloadsAndUnloads(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ctx := context.Background()
	helper := env.write("lib/strings.sh", "echo strings\n")
	user := env.write("user.kite.sh", "#import lib/strings.sh\n")
	gone := env.write("gone.kite.sh", "echo gone\n")

	_, err := env.manager.LoadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"gone", "user"}, names(env.manager.ListLoaded()))
	compiles := env.compiler.compiles.Load()

	fresh := env.write("fresh.kite.sh", "echo fresh\n")
	require.NoError(t, os.Remove(gone))
	require.NoError(t, os.WriteFile(helper, []byte("echo strings v2\n"), 0o644))

	summary := env.manager.Refresh(ctx, []string{helper, fresh, gone, user})
	require.Equal(t, Summary{Succeeded: 3, Total: 3}, summary)
	require.Equal(t, []string{"fresh", "user"}, names(env.manager.ListLoaded()))
	// user recompiled because its import changed, fresh compiled for the first time
	require.Equal(t, compiles+2, env.compiler.compiles.Load())
}

func TestRefresh_IgnoresUnrelatedPaths(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	steps := env.manager.plan([]string{
		filepath.Join(env.root, "elsewhere.kite.sh"),
		filepath.Join(env.scripts, "notes.txt"),
		filepath.Join(env.scripts, ".hidden", "main.kite.sh"),
	})
	require.Empty(t, steps)
	require.Equal(t, Summary{}, env.manager.Refresh(context.Background(), nil))
}

func TestRefresh_PlanDeduplicates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	entry := env.write("tool/main.kite.sh", "#import util.sh\n")
	util := env.write("tool/util.sh", "echo util\n")

	ok, err := env.wait(env.manager.Load(context.Background(), "tool"))
	require.NoError(t, err)
	require.True(t, ok)

	steps := env.manager.plan([]string{util, entry, util})
	require.Equal(t, []refreshStep{{name: "tool", action: actionReload}}, steps)
	require.Equal(t, "reload", steps[0].action.String())
}
