package markdown

import (
	"strings"
	"testing"
)

func TestConvertHeadingsAndEmphasis(t *testing.T) {
	input := `<h1>Agent Persona</h1><p>You are a <strong>helpful</strong> and <em>concise</em> assistant.</p>`
	got := Convert(input)

	if !strings.Contains(got, "# Agent Persona") {
		t.Errorf("missing heading in:\n%s", got)
	}
	if !strings.Contains(got, "**helpful**") {
		t.Errorf("missing bold in:\n%s", got)
	}
	if !strings.Contains(got, "*concise*") {
		t.Errorf("missing italic in:\n%s", got)
	}
}

func TestConvertLinksAndLists(t *testing.T) {
	input := `<p>See <a href="https://docs.relay.dev">the docs</a>.</p><ul><li>be brief</li><li>cite sources</li></ul>`
	got := Convert(input)

	if !strings.Contains(got, "[the docs](https://docs.relay.dev)") {
		t.Errorf("missing link in:\n%s", got)
	}
	if !strings.Contains(got, "- be brief") || !strings.Contains(got, "- cite sources") {
		t.Errorf("missing list items in:\n%s", got)
	}
}

func TestConvertCode(t *testing.T) {
	input := `<p>Call <code>search()</code> first.</p><pre><code>query := build()
run(query)</code></pre>`
	got := Convert(input)

	if !strings.Contains(got, "`search()`") {
		t.Errorf("missing inline code in:\n%s", got)
	}
	if !strings.Contains(got, "```\nquery := build()\nrun(query)\n```") {
		t.Errorf("missing code fence in:\n%s", got)
	}
}

func TestConvertStripsNoise(t *testing.T) {
	input := `<head><title>x</title></head><!-- internal --><script>alert(1)</script><p>keep me</p>`
	got := Convert(input)

	if got != "keep me" {
		t.Errorf("expected only text content, got:\n%s", got)
	}
}

func TestConvertEntitiesAndPlainText(t *testing.T) {
	if got := Convert("<p>Q&amp;A &lt;draft&gt;</p>"); got != "Q&A <draft>" {
		t.Errorf("entities not unescaped: %q", got)
	}
	if got := Convert("already markdown, no tags"); got != "already markdown, no tags" {
		t.Errorf("plain text should pass through: %q", got)
	}
}

func TestConvertCollapsesBlankLines(t *testing.T) {
	input := `<p>one</p><p></p><p></p><p>two</p>`
	got := Convert(input)
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank runs not collapsed:\n%q", got)
	}
}
