package capture

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"slate/internal/logging"
)

// HotplugAction describes a device arrival or removal.
type HotplugAction string

const (
	HotplugAdded   HotplugAction = "added"
	HotplugRemoved HotplugAction = "removed"
)

// HotplugEvent reports a change for the monitored capture device node.
type HotplugEvent struct {
	Action HotplugAction
	Node   string
}

// HotplugMonitor listens for udev netlink events on the video4linux
// subsystem and reports arrival/removal of the configured device. The daemon
// uses it to surface device readiness without polling the node.
type HotplugMonitor struct {
	logger *slog.Logger
	device string
	events chan HotplugEvent

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewHotplugMonitor creates a monitor for the given device node. Returns nil
// when no device is configured.
func NewHotplugMonitor(logger *slog.Logger, devicePath string) *HotplugMonitor {
	device := strings.TrimSpace(devicePath)
	if device == "" {
		return nil
	}
	return &HotplugMonitor{
		logger: logging.NewComponentLogger(logger, "hotplug-monitor"),
		device: device,
		events: make(chan HotplugEvent, 4),
	}
}

// Events yields device arrival/removal notifications.
func (m *HotplugMonitor) Events() <-chan HotplugEvent {
	if m == nil {
		return nil
	}
	return m.events
}

// Start begins listening for udev netlink events. Connection failures are
// non-fatal: capture still works, only hotplug awareness is lost.
func (m *HotplugMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; device hotplug detection unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("hotplug monitor started",
		logging.String(logging.FieldEventType, "hotplug_monitor_started"),
		logging.String("device", m.device),
	)
	return nil
}

// Stop shuts down the monitor.
func (m *HotplugMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
}

// Running reports whether the monitor is active.
func (m *HotplugMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *HotplugMonitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, m.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			m.logger.Warn("hotplug monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "hotplug_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
			)
		}
	}
}

// buildMatcher matches add/remove uevents on the video4linux subsystem.
func (m *HotplugMonitor) buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func (m *HotplugMonitor) handleEvent(uevent netlink.UEvent) {
	devname := strings.TrimSpace(uevent.Env["DEVNAME"])
	if devname == "" {
		return
	}
	if !strings.HasPrefix(devname, "/dev/") {
		devname = filepath.Join("/dev", devname)
	}
	if devname != m.device {
		return
	}

	action := HotplugAdded
	if strings.EqualFold(string(uevent.Action), "remove") {
		action = HotplugRemoved
	}

	event := HotplugEvent{Action: action, Node: devname}
	select {
	case m.events <- event:
	default:
		// Drop when the consumer is behind; readiness is level-based anyway.
	}

	m.logger.Info("capture device hotplug event",
		logging.String(logging.FieldEventType, "hotplug_event"),
		logging.String("action", string(action)),
		logging.String("device", devname),
	)
}
