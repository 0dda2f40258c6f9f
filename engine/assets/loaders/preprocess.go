package loaders

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

// Both marker spellings are accepted: "#shader vertex" and "#type vertex".
var stageMarkers = []string{"#shader", "#type"}

const maxLineSize = 1024 * 1024

// Preprocess splits a combined shader source into one source text per stage.
// A stage starts at its marker line and runs until the next marker or the end
// of the input. Only blank lines and // comments may precede the first marker.
func Preprocess(source string) (metadata.SourceBundle, error) {
	bundle, _, err := split(source)
	return bundle, err
}

// split does the work of Preprocess and also reports, per stage, the 1-based
// line of the file its body starts on.
func split(source string) (metadata.SourceBundle, map[metadata.ShaderStage]int, error) {
	bundle := make(metadata.SourceBundle)
	starts := make(map[metadata.ShaderStage]int)

	var (
		current     = metadata.ShaderStageUndefined
		markerLine  int
		body        []string
		lineNumber  int
		sawAnything bool
	)

	flush := func() error {
		if current == metadata.ShaderStageUndefined {
			return nil
		}
		text := strings.Join(body, "\n") + "\n"
		if strings.TrimSpace(text) == "" {
			return &core.MalformedSourceError{Line: markerLine, Reason: fmt.Sprintf("%s stage has an empty body", current)}
		}
		bundle[current] = text
		starts[current] = markerLine + 1
		return nil
	}

	scanner := bufio.NewScanner(strings.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			sawAnything = true
		}

		stage, isMarker, err := parseMarker(trimmed, lineNumber)
		if err != nil {
			return nil, nil, err
		}
		if isMarker {
			if err := flush(); err != nil {
				return nil, nil, err
			}
			if _, dup := bundle[stage]; dup {
				return nil, nil, &core.MalformedSourceError{Line: lineNumber, Reason: fmt.Sprintf("duplicate %s stage marker", stage)}
			}
			current = stage
			markerLine = lineNumber
			body = body[:0]
			continue
		}

		if current == metadata.ShaderStageUndefined {
			if trimmed == "" || strings.HasPrefix(trimmed, "//") {
				continue
			}
			return nil, nil, &core.MalformedSourceError{Line: lineNumber, Reason: "content before the first stage marker"}
		}
		body = append(body, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, &core.MalformedSourceError{Line: lineNumber + 1, Reason: err.Error()}
	}

	if err := flush(); err != nil {
		return nil, nil, err
	}
	if len(bundle) == 0 {
		if !sawAnything {
			return nil, nil, &core.MalformedSourceError{Reason: "empty source"}
		}
		return nil, nil, &core.MalformedSourceError{Reason: "no stage markers found"}
	}
	return bundle, starts, nil
}

// parseMarker reports whether the trimmed line is a stage marker and which
// stage it names.
func parseMarker(trimmed string, lineNumber int) (metadata.ShaderStage, bool, error) {
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return metadata.ShaderStageUndefined, false, nil
	}
	isMarker := false
	for _, m := range stageMarkers {
		if fields[0] == m {
			isMarker = true
			break
		}
	}
	if !isMarker {
		return metadata.ShaderStageUndefined, false, nil
	}

	if len(fields) < 2 || strings.HasPrefix(fields[1], "//") {
		return metadata.ShaderStageUndefined, true, &core.MalformedSourceError{Line: lineNumber, Reason: fmt.Sprintf("%s marker without a stage name", fields[0])}
	}
	if len(fields) > 2 && !strings.HasPrefix(fields[2], "//") {
		return metadata.ShaderStageUndefined, true, &core.MalformedSourceError{Line: lineNumber, Reason: fmt.Sprintf("unexpected text after stage name: %q", strings.Join(fields[2:], " "))}
	}
	stage, ok := metadata.ParseShaderStage(fields[1])
	if !ok {
		return metadata.ShaderStageUndefined, true, &core.MalformedSourceError{Line: lineNumber, Reason: fmt.Sprintf("unrecognized stage %q", fields[1])}
	}
	return stage, true, nil
}

// Reconstruct renders a bundle back into a combined source, stages in
// pipeline order.
func Reconstruct(bundle metadata.SourceBundle) string {
	var sb strings.Builder
	for _, stage := range bundle.Stages() {
		sb.WriteString("#shader ")
		sb.WriteString(stage.String())
		sb.WriteByte('\n')
		sb.WriteString(bundle[stage])
	}
	return sb.String()
}
