// Package notify implements the D-Bus collaborator boundary spec.md §6
// names ("D-Bus service projects the same contracts as IPC
// methods/signals"): a session-bus service that answers file-status
// queries and emits a signal whenever a sync_items row changes state, so
// a file-manager extension can paint hydration/pin/conflict badges
// without polling. Grounded on the teacher's internal/fs/dbus.go
// (FileStatusDBusServer), generalized from its single-filesystem
// GetFileStatus/SendFileStatusUpdate surface to query domain.SyncItem
// state through StateRepository instead of an in-process Filesystem
// reference, and extended with a ConflictDetected signal matching
// SPEC_FULL.md's conflict-notification requirement.
package notify

import (
	"fmt"
	"os"
	"sync"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/lnxlog"
	"github.com/lnxdrive/lnxdrive/internal/state"
)

const (
	dbusInterface    = "org.lnxdrive.FileStatus"
	dbusObjectPath   = "/org/lnxdrive/FileStatus"
	serviceNameBase  = "org.lnxdrive.FileStatus"
	serviceNameFile  = "/tmp/lnxdrive-dbus-service-name"
)

// ServiceName is the D-Bus name this process will request. It carries a
// PID/timestamp suffix so multiple mounts (or test runs) never collide.
var ServiceName string

func init() {
	SetServiceNamePrefix("instance")
}

// SetServiceNamePrefix regenerates ServiceName with a fresh unique suffix.
// Exposed so a multi-account daemon can give each mount's server a
// distinguishable name.
func SetServiceNamePrefix(prefix string) {
	if prefix == "" {
		prefix = "instance"
	}
	suffix := fmt.Sprintf("%d_%d", os.Getpid(), time.Now().UnixNano()%10000)
	ServiceName = fmt.Sprintf("%s.%s_%s", serviceNameBase, prefix, suffix)
}

// Server is a D-Bus session-bus service projecting sync_items state as
// IPC methods and signals, per spec.md §6.
type Server struct {
	repo state.Repository

	mu      sync.RWMutex
	conn    *dbus.Conn
	started bool
}

// New constructs a Server backed by repo for status lookups.
func New(repo state.Repository) *Server {
	return &Server{repo: repo}
}

// Start connects to the session bus, requests ServiceName, and exports
// the FileStatus interface plus its introspection data.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := lnxlog.NewLogContext("notify").WithMethod("Start").Logger()

	if s.started {
		return nil
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to session bus")
		return err
	}
	s.conn = conn

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagAllowReplacement|dbus.NameFlagReplaceExisting|dbus.NameFlagDoNotQueue)
	if err != nil {
		log.Error().Err(err).Msg("failed to request D-Bus name")
		s.conn = nil
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		log.Warn().Str("name", ServiceName).Msg("not primary owner of D-Bus name, continuing anyway")
	}

	if err := conn.Export(s, dbusObjectPath, dbusInterface); err != nil {
		log.Error().Err(err).Msg("failed to export D-Bus object")
		s.conn = nil
		return err
	}
	if err := conn.Export(introspect.NewIntrospectable(introspectionNode()), dbusObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		log.Error().Err(err).Msg("failed to export introspection data")
		s.conn = nil
		return err
	}

	if err := writeServiceNameFile(); err != nil {
		log.Warn().Err(err).Msg("failed to write D-Bus service name discovery file")
	}

	s.started = true
	log.Info().Str("name", ServiceName).Msg("D-Bus file status service started")
	return nil
}

// Stop releases the bus name, unexports the object, and closes the
// connection.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := lnxlog.NewLogContext("notify").WithMethod("Stop").Logger()

	if !s.started || s.conn == nil {
		return
	}

	if _, err := s.conn.ReleaseName(ServiceName); err != nil {
		log.Warn().Err(err).Msg("failed to release D-Bus name")
	}
	if err := s.conn.Export(nil, dbusObjectPath, dbusInterface); err != nil {
		log.Warn().Err(err).Msg("failed to unexport D-Bus object")
	}
	if err := s.conn.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close D-Bus connection")
	}
	if err := removeServiceNameFile(); err != nil {
		log.Warn().Err(err).Msg("failed to remove D-Bus service name discovery file")
	}

	s.conn = nil
	s.started = false
	log.Info().Msg("D-Bus file status service stopped")
}

// GetFileStatus is exported as a D-Bus method: given a local path, it
// returns the current sync_items.state string, or "Unknown" if no item
// is tracked at that path.
func (s *Server) GetFileStatus(path string) (string, *dbus.Error) {
	item, err := s.repo.GetItemByLocalPath(path)
	if err != nil {
		return "Unknown", nil
	}
	return item.GetState().String(), nil
}

// NotifyStateChanged emits FileStatusChanged for path/state. The daemon
// starts and stops the Server, but no component in this module calls this
// method. A nil or unstarted Server makes this a no-op so callers never
// need a started check of their own.
func (s *Server) NotifyStateChanged(path string, state domain.ItemState) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || s.conn == nil {
		return
	}
	if err := s.conn.Emit(dbusObjectPath, dbusInterface+".FileStatusChanged", path, state.String()); err != nil {
		lnxlog.NewLogContext("notify").WithMethod("NotifyStateChanged").Logger().
			Error().Err(err).Str("path", path).Msg("failed to emit FileStatusChanged signal")
	}
}

// NotifyConflictDetected emits ConflictDetected for an item newly marked
// Conflicted by ConflictEngine, so a desktop client can prompt the user
// for a resolution choice (spec.md §6's CLI collaborator boundary (b)).
func (s *Server) NotifyConflictDetected(path string, conflictID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || s.conn == nil {
		return
	}
	if err := s.conn.Emit(dbusObjectPath, dbusInterface+".ConflictDetected", path, conflictID); err != nil {
		lnxlog.NewLogContext("notify").WithMethod("NotifyConflictDetected").Logger().
			Error().Err(err).Str("path", path).Msg("failed to emit ConflictDetected signal")
	}
}

func introspectionNode() *introspect.Node {
	return &introspect.Node{
		Name: dbusObjectPath,
		Interfaces: []introspect.Interface{
			{
				Name: dbusInterface,
				Methods: []introspect.Method{
					{
						Name: "GetFileStatus",
						Args: []introspect.Arg{
							{Name: "path", Type: "s", Direction: "in"},
							{Name: "status", Type: "s", Direction: "out"},
						},
					},
				},
				Signals: []introspect.Signal{
					{Name: "FileStatusChanged", Args: []introspect.Arg{
						{Name: "path", Type: "s"},
						{Name: "status", Type: "s"},
					}},
					{Name: "ConflictDetected", Args: []introspect.Arg{
						{Name: "path", Type: "s"},
						{Name: "conflict_id", Type: "s"},
					}},
				},
			},
		},
	}
}

func writeServiceNameFile() error {
	tmp := serviceNameFile + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create service name file: %w", err)
	}
	if _, err := f.WriteString(ServiceName + "\n"); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write service name: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync service name file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close service name file: %w", err)
	}
	if err := os.Rename(tmp, serviceNameFile); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename service name file: %w", err)
	}
	return nil
}

func removeServiceNameFile() error {
	data, err := os.ReadFile(serviceNameFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	stored := string(data)
	if len(stored) > 0 && stored[len(stored)-1] == '\n' {
		stored = stored[:len(stored)-1]
	}
	if stored != ServiceName {
		return nil
	}
	if err := os.Remove(serviceNameFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
