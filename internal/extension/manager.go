// Package extension implements the Extension Manager: it owns a set of MCP
// clients for one session, merges their tool catalogs under namespaced
// qualified names, dispatches calls, and surfaces top-of-mind instructions
// contributed by platform extensions.
//
// The qualified-name separator is "__" rather than a single "_" to avoid
// colliding with underscores already present in tool names.
package extension

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/agentcore-run/acpcore/internal/mcpclient"
)

// Kind mirrors mcpclient.Kind plus the client-side "frontend" variant,
// whose tools are executed across the transport rather than in-process.
type Kind = mcpclient.Kind

const KindFrontend Kind = "frontend"

// Config is the tagged-union extension configuration record, encoded as a
// Go struct with a Kind discriminator.
type Config struct {
	Name           string
	Kind           Kind
	Command        []string
	Env            map[string]string
	URI            string
	Headers        map[string]string
	TimeoutMs      int
	AvailableTools []string
	Unprefixed     bool // platform extensions whose tools skip qualified-name prefixing
	InProcess      mcpclient.Config

	// FrontendTools lists tool names the client transport itself executes;
	// Manager records them for catalog purposes but never dispatches them.
	FrontendTools        []string
	FrontendInstructions string
}

// Errors returned by Manager operations.
var (
	ErrDuplicateName         = fmt.Errorf("extension: duplicate name")
	ErrHandshakeFailed       = fmt.Errorf("extension: handshake failed")
	ErrInitializationTimeout = fmt.Errorf("extension: initialization timeout")
	ErrToolNameCollision     = fmt.Errorf("extension: tool name collision")
	ErrExtensionNotFound     = fmt.Errorf("extension: not found")
	ErrToolNotAllowed        = fmt.Errorf("extension: tool not allowed")
)

// CatalogEntry is one merged, namespaced tool exposed to the model.
type CatalogEntry struct {
	QualifiedName string
	Extension     string
	ToolName      string
	Description   string
	Schema        []byte
	ReadOnlyHint  bool
}

type registeredExtension struct {
	cfg    Config
	client *mcpclient.Client
}

// MoimSource is implemented by platform extensions that want to contribute
// "top-of-mind" text injected into every turn's system prompt (e.g. the
// current todo list).
type MoimSource interface {
	TopOfMind(ctx context.Context, sessionID string) (string, error)
}

// Manager owns every extension for one session.
type Manager struct {
	mu   sync.RWMutex
	exts map[string]*registeredExtension
	moim map[string]MoimSource
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{
		exts: make(map[string]*registeredExtension),
		moim: make(map[string]MoimSource),
	}
}

// AddExtension instantiates a client per cfg.Kind, performs the MCP
// initialize handshake, and caches its tool list. Concurrent add_extension
// calls with the same name resolve last-write-wins: the second caller tears
// down the first's client under the manager's write lock before installing
// its own (see DESIGN.md's open-question decision).
func (m *Manager) AddExtension(ctx context.Context, cfg Config) error {
	mc := cfg.InProcess
	if mc.Name == "" {
		mc.Name = cfg.Name
		mc.Kind = cfg.Kind
		mc.Command = cfg.Command
		mc.Env = cfg.Env
		mc.URI = cfg.URI
		mc.Headers = cfg.Headers
		mc.AvailableTools = cfg.AvailableTools
	}

	var client *mcpclient.Client
	if cfg.Kind != KindFrontend {
		client = mcpclient.New(mc)
		if err := client.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s: %v", ErrInitializationTimeout, cfg.Name, err)
			}
			return fmt.Errorf("%w: %s: %v", ErrHandshakeFailed, cfg.Name, err)
		}
	}

	reg := &registeredExtension{cfg: cfg, client: client}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCollisions(cfg.Name, reg); err != nil {
		if client != nil {
			_ = client.Close(ctx)
		}
		return err
	}

	if existing, ok := m.exts[cfg.Name]; ok {
		// Last-write-wins: tear down the prior client before installing.
		if existing.client != nil {
			_ = existing.client.Close(ctx)
		}
	}
	m.exts[cfg.Name] = reg
	return nil
}

// checkCollisions verifies the new extension's qualified tool names don't
// already exist in a *different* extension's catalog.
func (m *Manager) checkCollisions(name string, reg *registeredExtension) error {
	var newNames []string
	if reg.client != nil {
		for _, t := range reg.client.Tools() {
			newNames = append(newNames, qualify(name, t.Name, reg.cfg.Unprefixed))
		}
	} else {
		for _, t := range reg.cfg.FrontendTools {
			newNames = append(newNames, qualify(name, t, reg.cfg.Unprefixed))
		}
	}

	seen := make(map[string]bool, len(newNames))
	for _, n := range newNames {
		if seen[n] {
			return fmt.Errorf("%w: %s", ErrToolNameCollision, n)
		}
		seen[n] = true
	}

	for otherName, other := range m.exts {
		if otherName == name {
			continue
		}
		for _, n := range newNames {
			if _, exists := otherCatalogHas(other, n); exists {
				return fmt.Errorf("%w: %s", ErrToolNameCollision, n)
			}
		}
	}
	return nil
}

func otherCatalogHas(reg *registeredExtension, qualified string) (string, bool) {
	if reg.client != nil {
		for _, t := range reg.client.Tools() {
			if qualify(reg.cfg.Name, t.Name, reg.cfg.Unprefixed) == qualified {
				return t.Name, true
			}
		}
	}
	for _, t := range reg.cfg.FrontendTools {
		if qualify(reg.cfg.Name, t, reg.cfg.Unprefixed) == qualified {
			return t, true
		}
	}
	return "", false
}

func qualify(extName, toolName string, unprefixed bool) string {
	if unprefixed {
		return toolName
	}
	return extName + "__" + toolName
}

// RemoveExtension tears down the client and drops cached state.
func (m *Manager) RemoveExtension(ctx context.Context, name string) error {
	m.mu.Lock()
	reg, ok := m.exts[name]
	if ok {
		delete(m.exts, name)
	}
	delete(m.moim, name)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}
	if reg.client != nil {
		return reg.client.Close(ctx)
	}
	return nil
}

// RegisterMoimSource attaches a platform extension's top-of-mind provider.
func (m *Manager) RegisterMoimSource(name string, src MoimSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moim[name] = src
}

// ListTools returns the merged, namespaced, allow-list-filtered catalog.
func (m *Manager) ListTools() []CatalogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CatalogEntry
	names := make([]string, 0, len(m.exts))
	for n := range m.exts {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		reg := m.exts[name]
		if reg.client == nil {
			for _, t := range reg.cfg.FrontendTools {
				if !allowed(reg.cfg.AvailableTools, t) {
					continue
				}
				out = append(out, CatalogEntry{
					QualifiedName: qualify(name, t, reg.cfg.Unprefixed),
					Extension:     name,
					ToolName:      t,
				})
			}
			continue
		}
		if reg.client.State() != mcpclient.StateReady {
			continue
		}
		for _, t := range reg.client.Tools() {
			if !allowed(reg.cfg.AvailableTools, t.Name) {
				continue
			}
			out = append(out, CatalogEntry{
				QualifiedName: qualify(name, t.Name, reg.cfg.Unprefixed),
				Extension:     name,
				ToolName:      t.Name,
				Description:   t.Description,
				Schema:        t.InputSchema,
				ReadOnlyHint:  t.ReadOnly,
			})
		}
	}
	return out
}

// ToolResult is the dispatch outcome surfaced to the agent loop.
type ToolResult struct {
	Text    string
	IsError bool
}

// DispatchToolCall routes a qualified tool name to its owning extension's
// client: split the namespace prefix, look up the extension, check it
// against the allow-list, and dispatch (or reject frontend tools, which
// the client transport executes instead).
func (m *Manager) DispatchToolCall(ctx context.Context, qualifiedName string, args []byte) (ToolResult, error) {
	extName, toolName, ok := split(qualifiedName)

	m.mu.RLock()
	var reg *registeredExtension
	if ok {
		reg = m.exts[extName]
	} else {
		// Unprefixed lookup: find the single extension exposing toolName.
		for _, candidate := range m.exts {
			if candidate.cfg.Unprefixed {
				if _, has := otherCatalogHas(candidate, toolName); has {
					reg = candidate
					extName = candidate.cfg.Name
					break
				}
			}
		}
	}
	m.mu.RUnlock()

	if reg == nil {
		return ToolResult{}, fmt.Errorf("%w: %s", ErrExtensionNotFound, qualifiedName)
	}
	if reg.client == nil {
		return ToolResult{}, fmt.Errorf("%s: frontend tool cannot be dispatched in-process", qualifiedName)
	}
	if reg.client.State() != mcpclient.StateReady {
		return ToolResult{}, fmt.Errorf("%w: %s", ErrExtensionNotFound, extName)
	}
	if !allowed(reg.cfg.AvailableTools, toolName) {
		return ToolResult{}, fmt.Errorf("%w: %s", ErrToolNotAllowed, qualifiedName)
	}

	result, err := reg.client.Call(ctx, toolName, args)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Text: result.Text, IsError: result.IsError}, nil
}

func split(qualifiedName string) (ext, tool string, ok bool) {
	idx := strings.Index(qualifiedName, "__")
	if idx < 0 {
		return "", qualifiedName, false
	}
	return qualifiedName[:idx], qualifiedName[idx+2:], true
}

// allowed reports whether toolName passes an extension's available_tools
// allow-list. An empty list means "all tools"; entries may be exact names
// or doublestar glob patterns (e.g. "get_*", "**_read").
func allowed(list []string, toolName string) bool {
	if len(list) == 0 {
		return true
	}
	for _, pattern := range list {
		if pattern == toolName {
			return true
		}
		if matched, _ := doublestar.Match(pattern, toolName); matched {
			return true
		}
	}
	return false
}

// ListResources aggregates resources across every ready extension.
func (m *Manager) ListResources(ctx context.Context) ([]mcpclient.Resource, error) {
	m.mu.RLock()
	regs := make([]*registeredExtension, 0, len(m.exts))
	for _, r := range m.exts {
		regs = append(regs, r)
	}
	m.mu.RUnlock()

	var out []mcpclient.Resource
	for _, r := range regs {
		if r.client == nil || r.client.State() != mcpclient.StateReady {
			continue
		}
		resources, err := r.client.ListResources(ctx)
		if err != nil {
			continue
		}
		out = append(out, resources...)
	}
	return out, nil
}

// ReadResource reads one resource from a named extension.
func (m *Manager) ReadResource(ctx context.Context, uri, extName string) (string, string, error) {
	m.mu.RLock()
	reg, ok := m.exts[extName]
	m.mu.RUnlock()
	if !ok || reg.client == nil {
		return "", "", fmt.Errorf("%w: %s", ErrExtensionNotFound, extName)
	}
	return reg.client.ReadResource(ctx, uri)
}

// GetMoim collects top-of-mind text from every registered platform
// extension, in a stable (name-sorted) order.
func (m *Manager) GetMoim(ctx context.Context, sessionID string) (string, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.moim))
	for n := range m.moim {
		names = append(names, n)
	}
	sort.Strings(names)
	sources := make([]MoimSource, len(names))
	for i, n := range names {
		sources[i] = m.moim[n]
	}
	m.mu.RUnlock()

	var sb strings.Builder
	for _, src := range sources {
		text, err := src.TopOfMind(ctx, sessionID)
		if err != nil || text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// Close tears down every extension's client.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	regs := make([]*registeredExtension, 0, len(m.exts))
	for _, r := range m.exts {
		regs = append(regs, r)
	}
	m.exts = make(map[string]*registeredExtension)
	m.mu.Unlock()

	var firstErr error
	for _, r := range regs {
		if r.client == nil {
			continue
		}
		if err := r.client.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
