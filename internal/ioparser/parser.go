// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ioparser reconstructs the I/O-descriptor lifecycle from a flat
// textual trace of nested enter/exit library calls, emitting CallsNodes in
// trace order plus the nesting edges implied by the trace's indentation
// (spec §4.2).
package ioparser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/themis-project/themis/internal/iomodel"
)

var tracer = otel.Tracer("github.com/themis-project/themis/internal/ioparser")

// lineRegex matches one trace line: an offset of '|' and whitespace, a
// function name, an optional ::enter<id>/::exit<id> callpoint, and a
// parenthesized comma-space-separated key=value argument list (spec §6).
var lineRegex = regexp.MustCompile(`^(?P<offset>[|\s]*)(?P<func>\w+)(?:::(?P<callpoint>enter|exit)<(?P<cid>\d+)>)?\((?P<args>.*)\)\s*$`)

// inFDKeys are the argument names the parser checks, in order, to resolve
// the descriptor a call consumed.
var inFDKeys = []string{"fd", "sockfd", "stream", "oldfd"}

// outFDKeys are the argument names the parser checks to resolve the
// descriptor(s) a call produced.
var outFDKeys = []string{"newfd", "retval"}

// NestEdge is one lexical-containment edge accumulated while parsing,
// consumed by the grapher after the stream is drained.
type NestEdge struct {
	From uint64
	To   uint64
}

// slogReporter is the default AnomalyReporter: it logs recovered parse
// errors at warn level and never returns them from Parse, per spec §7.
type slogReporter struct {
	logger *slog.Logger
}

func (r *slogReporter) ReportSyntaxError(e *SyntaxError) {
	r.logger.Warn("trace syntax error", "line_no", e.LineNo, "line", e.Line)
}

func (r *slogReporter) ReportFdLifecycleAnomaly(e *FdLifecycleAnomaly) {
	r.logger.Warn("fd lifecycle anomaly", "kind", int(e.Kind), "line_no", e.LineNo, "func", e.Func, "fd", e.FDValue)
}

// fdEntry is one entry in the parser's fd registry.
type fdEntry struct {
	desc  *iomodel.IODesc
	state iomodel.IODescState
}

// nodeIDSource is satisfied structurally by *iomodel.NewNodeCounter's return
// value, letting Parser hold one without naming iomodel's unexported counter
// type.
type nodeIDSource interface {
	Next() uint64
}

// Option configures a Parser.
type Option func(*Parser)

// WithReporter overrides the AnomalyReporter used for recovered errors.
func WithReporter(r AnomalyReporter) Option {
	return func(p *Parser) { p.reporter = r }
}

// WithTables overrides the comparison/manipulator tables used to guess I/O
// construct types (spec §9: tables are data, loadable from config).
func WithTables(t *iomodel.Tables) Option {
	return func(p *Parser) { p.tables = t }
}

// Parser reconstructs CallsNodes and nesting edges from a trace. Per spec
// §5, a Parser exclusively owns its fd registry for its lifetime (one
// trace) and is not safe for concurrent use by multiple goroutines.
type Parser struct {
	reporter AnomalyReporter
	tables   *iomodel.Tables
	counter  nodeIDSource

	fdRegistry           map[int64]*fdEntry
	openCalls            map[uint64]*iomodel.CallsNode
	openCallStack        []uint64
	availableInternalFDs map[uint64]*iomodel.IODesc
	lastOfLevel          map[int]uint64
	nestEdges            []NestEdge

	lineNo       int
	previousDepth int
}

// NewParser creates a Parser with fds 0/1/2 pre-seeded as inherited
// stdin/stdout/stderr in StateUnknown (spec §4.2).
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		reporter:             &slogReporter{logger: slog.Default()},
		tables:               iomodel.DefaultTables(),
		counter:              iomodel.NewNodeCounter(),
		fdRegistry:           make(map[int64]*fdEntry),
		openCalls:            make(map[uint64]*iomodel.CallsNode),
		availableInternalFDs: make(map[uint64]*iomodel.IODesc),
		lastOfLevel:          make(map[int]uint64),
		previousDepth:        -1,
	}
	for _, opt := range opts {
		opt(p)
	}

	stdDescs := []struct {
		fd   int64
		desc string
	}{
		{0, "standard input, inherited"},
		{1, "standard output, inherited"},
		{2, "standard error, inherited"},
	}
	for _, sd := range stdDescs {
		v := sd.fd
		p.fdRegistry[sd.fd] = &fdEntry{
			desc:  &iomodel.IODesc{Typ: iomodel.StdStream, FD: &v, Desc: sd.desc},
			state: iomodel.StateUnknown,
		}
	}
	return p
}

// Parse reads the entire trace and returns the CallsNodes in trace order
// paired with their post-process hints, plus the nesting edges accumulated
// from indentation. Unparseable lines and fd-lifecycle anomalies are
// recovered (logged via the Parser's AnomalyReporter) rather than returned;
// per spec §7, Parse only returns an error for a failure of the underlying
// reader itself, or ctx.Err() (with what was parsed so far) when ctx is
// cancelled.
func (p *Parser) Parse(ctx context.Context, r io.Reader) ([]iomodel.CallsNodeAndHint, []NestEdge, error) {
	ctx, span := tracer.Start(ctx, "ioparser.Parse")
	defer span.End()

	var out []iomodel.CallsNodeAndHint

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return out, p.nestEdges, ctx.Err()
		default:
		}
		p.lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if hint, node, ok := p.parseLine(line); ok && node != nil {
			out = append(out, iomodel.CallsNodeAndHint{Node: node, Hint: hint})
		}
	}
	if err := scanner.Err(); err != nil {
		return out, p.nestEdges, fmt.Errorf("ioparser: reading trace: %w", err)
	}

	span.SetAttributes(attribute.Int("themis.parser.nodes_emitted", len(out)))
	return out, p.nestEdges, nil
}

// parseLine implements the per-line algorithm of spec §4.2. The returned
// bool is false when the line contributed no emittable node (a dangling
// enter, or an unparseable line).
func (p *Parser) parseLine(line string) (iomodel.Hint, *iomodel.CallsNode, bool) {
	m := lineRegex.FindStringSubmatch(line)
	if m == nil {
		p.reporter.ReportSyntaxError(&SyntaxError{LineNo: p.lineNo, Line: line})
		return iomodel.HintNone, nil, false
	}
	groups := make(map[string]string, len(m))
	for i, name := range lineRegex.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		groups[name] = m[i]
	}

	depth := strings.Count(groups["offset"], "|")
	funcName := groups["func"]
	args := p.parseArgs(groups["args"])
	callpoint := groups["callpoint"]

	inFD := p.resolveInFD(args, funcName)
	outFD := p.resolveOutFD(args, funcName)
	funcObj := iomodel.Function{Name: funcName, Effect: iomodel.EffectNone}

	var node *iomodel.CallsNode
	var hint iomodel.Hint
	var emit bool

	switch callpoint {
	case "":
		index := p.lineNo
		node = &iomodel.CallsNode{
			ID: p.counter.Next(),
			Call: iomodel.IOCall{
				Index: index, Func: funcObj, InFD: inFD, OutFD: outFD, Args: args,
			},
		}
		hint = p.postprocess(node)
		emit = true

	case "enter":
		cid, _ := strconv.ParseUint(groups["cid"], 10, 64)
		index := p.lineNo
		created := &iomodel.CallsNode{
			ID: p.counter.Next(),
			Call: iomodel.IOCall{
				Index: index, Func: funcObj, InFD: inFD, OutFD: outFD, Args: args,
			},
		}
		p.openCalls[cid] = created
		p.openCallStack = append(p.openCallStack, created.ID)
		node = created
		emit = false

	case "exit":
		cid, _ := strconv.ParseUint(groups["cid"], 10, 64)
		created, ok := p.openCalls[cid]
		if !ok {
			// Unbalanced exit: nothing to pair with. Logged, no node
			// emitted (spec §4.2 failure modes).
			p.reporter.ReportSyntaxError(&SyntaxError{LineNo: p.lineNo, Line: line})
			return iomodel.HintNone, nil, false
		}
		delete(p.openCalls, cid)

		// If this exit is an `open` nested directly inside another open
		// call's still-active window (the classic fopen-wraps-open
		// pattern), record the newly opened fd as the enclosing call's
		// internal descriptor before popping the stack (spec S3).
		if funcName == "open" && len(outFD) > 0 {
			if idx := p.stackIndex(created.ID); idx > 0 {
				p.availableInternalFDs[p.openCallStack[idx-1]] = outFD[0]
			}
		}
		p.popFromStack(created.ID)

		created.Call.OutFD = outFD
		created.Call.Index = p.lineNo

		if created.Call.Func.Name == "fopen" && len(created.Call.OutFD) > 0 {
			created.Call.OutFD[0].Internal = p.availableInternalFDs[created.ID]
		}

		hint = p.postprocess(created)
		node = created
		emit = true
	}

	// Nesting edges: when depth increases relative to the previous line,
	// the last node recorded at the shallower depth lexically encloses
	// this one (spec §4.2 step 5, §4.3).
	if depth > p.previousDepth {
		if parentID, ok := p.lastOfLevel[p.previousDepth]; ok {
			p.nestEdges = append(p.nestEdges, NestEdge{From: parentID, To: node.ID})
		}
	}
	p.previousDepth = depth
	p.lastOfLevel[depth] = node.ID

	if !emit {
		return iomodel.HintNone, nil, false
	}
	return hint, node, true
}

func (p *Parser) popFromStack(id uint64) {
	for i := len(p.openCallStack) - 1; i >= 0; i-- {
		if p.openCallStack[i] == id {
			p.openCallStack = append(p.openCallStack[:i], p.openCallStack[i+1:]...)
			return
		}
	}
}

// stackIndex returns id's position in openCallStack, or -1 if absent.
func (p *Parser) stackIndex(id uint64) int {
	for i, v := range p.openCallStack {
		if v == id {
			return i
		}
	}
	return -1
}

// parseArgs splits "k=v, k=v" into a map. Malformed pairs (no '=') are
// skipped silently, with no syntax error reported, since the line already
// matched the outer grammar.
func (p *Parser) parseArgs(raw string) map[string]string {
	args := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return args
	}
	for _, pair := range strings.Split(raw, ", ") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		args[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return args
}

// resolveInFD scans args for the first present input-fd key and resolves it
// against the registry, per spec §4.2 step 2.
func (p *Parser) resolveInFD(args map[string]string, funcName string) *iomodel.IODesc {
	for _, key := range inFDKeys {
		value, ok := args[key]
		if !ok {
			continue
		}
		fd, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			continue
		}
		entry, ok := p.fdRegistry[fd]
		if !ok {
			p.reporter.ReportFdLifecycleAnomaly(&FdLifecycleAnomaly{
				Kind: AnomalyUnregisteredInput, LineNo: p.lineNo, Func: funcName, FDValue: fd,
			})
			return iomodel.NewIODesc(fd)
		}
		if entry.state == iomodel.StateClosed {
			p.reporter.ReportFdLifecycleAnomaly(&FdLifecycleAnomaly{
				Kind: AnomalyUseOfClosed, LineNo: p.lineNo, Func: funcName, FDValue: fd,
			})
		}
		if entry.state == iomodel.StateForgotten {
			p.reporter.ReportFdLifecycleAnomaly(&FdLifecycleAnomaly{
				Kind: AnomalyUseOfForgotten, LineNo: p.lineNo, Func: funcName, FDValue: fd,
			})
		}
		return entry.desc
	}
	return nil
}

// resolveOutFD scans args for output-fd keys and registers each newly
// produced descriptor as OPEN with Unknown type, per spec §4.2 step 3.
func (p *Parser) resolveOutFD(args map[string]string, funcName string) []*iomodel.IODesc {
	var out []*iomodel.IODesc
	for _, key := range outFDKeys {
		value, ok := args[key]
		if !ok {
			continue
		}
		fd, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			continue
		}
		if funcName == "fopen" && fd == 0 {
			p.reporter.ReportFdLifecycleAnomaly(&FdLifecycleAnomaly{
				Kind: AnomalyOpenReturnedNull, LineNo: p.lineNo, Func: funcName,
			})
			continue
		}
		if entry, exists := p.fdRegistry[fd]; exists {
			if entry.state == iomodel.StateOpen {
				p.reporter.ReportFdLifecycleAnomaly(&FdLifecycleAnomaly{
					Kind: AnomalyReopenOfOpen, LineNo: p.lineNo, Func: funcName, FDValue: fd,
				})
			}
			if entry.state == iomodel.StateForgotten {
				p.reporter.ReportFdLifecycleAnomaly(&FdLifecycleAnomaly{
					Kind: AnomalyUseOfForgotten, LineNo: p.lineNo, Func: funcName, FDValue: fd,
				})
			}
		}
		desc := iomodel.NewIODesc(fd)
		p.fdRegistry[fd] = &fdEntry{desc: desc, state: iomodel.StateOpen}
		out = append(out, desc)
	}
	return out
}

// postprocess implements spec §4.2 step 5: CLOSERS transition their input
// fd to CLOSED, fclose additionally forgets its internal fd, dup/dup2
// propagate the input type to every output, and otherwise the descriptor
// types are refined via Tables.GuessIOType.
func (p *Parser) postprocess(node *iomodel.CallsNode) iomodel.Hint {
	name := node.Call.Func.Name
	hint := iomodel.HintNone

	// Unconditional closer check: transitions the input fd to CLOSED and
	// sets the RESET_FD hint. This runs independently of, and before, the
	// second chain below — a closer that is also e.g. "fcloseall" gets its
	// hint overridden by that chain, it is not excluded from this one.
	if p.tables.IsCloser(name) {
		if node.Call.InFD != nil {
			if fd, ok := node.Call.InFD.FDValue(); ok {
				if entry, exists := p.fdRegistry[fd]; exists {
					entry.state = iomodel.StateClosed
				}
			}
		}
		hint = iomodel.HintResetFD
	}

	// Second, independently-evaluated chain: fclose additionally forgets
	// its internal fd; fcloseall overrides the hint just set above to
	// RESET_STREAMS; dup/dup2 propagate the input type to every output;
	// every other function (including plain closers like close/closedir)
	// falls through to GuessIOType refinement.
	switch {
	case name == "fclose":
		if node.Call.InFD != nil && node.Call.InFD.Internal != nil {
			if fd, ok := node.Call.InFD.Internal.FDValue(); ok {
				if entry, exists := p.fdRegistry[fd]; exists {
					entry.state = iomodel.StateForgotten
				}
			}
		}

	case name == "fcloseall":
		hint = iomodel.HintResetStreams

	case name == "dup" || name == "dup2":
		if node.Call.InFD != nil {
			for _, fd := range node.Call.OutFD {
				fd.Typ = node.Call.InFD.Typ
			}
		}

	default:
		if node.Call.InFD != nil {
			node.Call.InFD.Typ = p.tables.GuessIOType(node.Call.InFD.Typ, name)
		}
		for _, fd := range node.Call.OutFD {
			fd.Typ = p.tables.GuessIOType(fd.Typ, name)
		}
	}

	return hint
}
