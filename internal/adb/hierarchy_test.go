// File: internal/adb/hierarchy_test.go
package adb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node index="0" text="" resource-id="" class="android.widget.FrameLayout" package="com.android.settings" content-desc="" checkable="false" checked="false" clickable="false" enabled="true" focusable="false" focused="false" scrollable="false" long-clickable="false" password="false" selected="false" bounds="[0,0][1080,2400]">
    <node index="0" text="" resource-id="" class="android.widget.LinearLayout" package="com.android.settings" content-desc="" checkable="false" checked="false" clickable="false" enabled="true" focusable="false" focused="false" scrollable="false" long-clickable="false" password="false" selected="false" bounds="[0,0][1080,2400]">
      <node index="0" text="Settings" resource-id="com.android.settings:id/title" class="android.widget.TextView" package="com.android.settings" content-desc="" checkable="false" checked="false" clickable="false" enabled="true" focusable="false" focused="false" scrollable="false" long-clickable="false" password="false" selected="false" bounds="[48,120][400,180]"/>
      <node index="1" text="" resource-id="com.android.settings:id/search" class="android.widget.Button" package="com.android.settings" content-desc="Search settings" checkable="false" checked="false" clickable="true" enabled="true" focusable="true" focused="false" scrollable="false" long-clickable="false" password="false" selected="false" bounds="[900,120][1032,180]"/>
      <node index="2" text="" resource-id="" class="android.view.View" package="com.android.settings" content-desc="" checkable="false" checked="false" clickable="false" enabled="true" focusable="false" focused="false" scrollable="false" long-clickable="false" password="false" selected="false" bounds="[0,200][1080,210]"/>
    </node>
  </node>
</hierarchy>`

func TestCompactHierarchyKeepsSignal(t *testing.T) {
	compact, err := CompactHierarchy(sampleDump)
	require.NoError(t, err)

	assert.Contains(t, compact, `text="Settings"`)
	assert.Contains(t, compact, `content-desc="Search settings"`)
	assert.Contains(t, compact, `clickable="true"`)
	assert.Contains(t, compact, `bounds="[900,120][1032,180]"`)
}

func TestCompactHierarchyDropsNoise(t *testing.T) {
	compact, err := CompactHierarchy(sampleDump)
	require.NoError(t, err)

	assert.NotContains(t, compact, "package=", "package attribute carries no decision signal")
	assert.NotContains(t, compact, "long-clickable", "unlisted attributes must be dropped")
	assert.NotContains(t, compact, `clickable="false"`, "default flag values must be dropped")
	// The empty decorative view contributes nothing and is pruned.
	assert.NotContains(t, compact, "android.view.View")
}

func TestCompactHierarchyShrinksDump(t *testing.T) {
	compact, err := CompactHierarchy(sampleDump)
	require.NoError(t, err)
	assert.Less(t, len(compact), len(sampleDump), "compaction must reduce prompt size")
}

func TestCompactHierarchyCollapsesWrappers(t *testing.T) {
	compact, err := CompactHierarchy(sampleDump)
	require.NoError(t, err)

	// The two empty FrameLayout/LinearLayout wrappers hold a single useful
	// subtree each once pruned; at most one container level should remain.
	assert.LessOrEqual(t, strings.Count(compact, "android.widget.FrameLayout"), 1)
}

func TestCompactHierarchyInvalidXML(t *testing.T) {
	_, err := CompactHierarchy("this is not xml <node")
	require.Error(t, err)
}

func TestCompactHierarchyEmptyDocument(t *testing.T) {
	_, err := CompactHierarchy("")
	require.Error(t, err)
}
