package fleet

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

const listServersResponse = `{
  "servers": [
    {
      "id": 42,
      "name": "web-1",
      "status": "running",
      "created": "2026-01-01T00:00:00+00:00",
      "public_net": {"ipv4": {"ip": "1.2.3.4", "blocked": false, "dns_ptr": "web-1"}, "ipv6": {"ip": "2001:db8::/64", "blocked": false, "dns_ptr": []}, "floating_ips": [], "firewalls": []},
      "private_net": [],
      "server_type": {"id": 1, "name": "cx22"},
      "datacenter": {"id": 1, "name": "fsn1-dc14", "location": {"id": 1, "name": "fsn1"}},
      "image": {"id": 7, "name": "ubuntu-24.04", "os_flavor": "ubuntu", "type": "system", "status": "available"},
      "labels": {"scaleset": "web"}
    },
    {
      "id": 43,
      "name": "web-2",
      "status": "off",
      "created": "2026-01-01T00:00:00+00:00",
      "public_net": {"ipv4": {"ip": "1.2.3.5", "blocked": false, "dns_ptr": "web-2"}, "ipv6": {"ip": "2001:db8:1::/64", "blocked": false, "dns_ptr": []}, "floating_ips": [], "firewalls": []},
      "private_net": [],
      "server_type": {"id": 1, "name": "cx22"},
      "datacenter": {"id": 1, "name": "fsn1-dc14", "location": {"id": 1, "name": "fsn1"}},
      "image": null,
      "labels": {"scaleset": "web"}
    }
  ],
  "meta": {"pagination": {"page": 1, "per_page": 50, "previous_page": null, "next_page": null, "last_page": 1, "total_entries": 2}}
}`

const deleteServerResponse = `{
  "action": {"id": 9, "command": "delete_server", "status": "running", "progress": 0,
             "started": "2026-01-01T00:00:00+00:00", "finished": null, "resources": [{"id": 42, "type": "server"}], "error": null}
}`

// newTestHetznerFleet points a HetznerFleet at the given handler.
func newTestHetznerFleet(t *testing.T, handler http.HandlerFunc) *HetznerFleet {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHetznerFleet(nil, hcloud.WithEndpoint(srv.URL), hcloud.WithToken("test-token"))
}

func TestHetznerFleet_ListNodes(t *testing.T) {
	f := newTestHetznerFleet(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/servers" {
			t.Errorf("expected path /servers, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("label_selector"); got != "scaleset=web" {
			t.Errorf("expected label_selector scaleset=web, got %q", got)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(listServersResponse))
	})

	nodes, err := f.ListNodes(context.Background(), "scaleset=web")
	if err != nil {
		t.Fatalf("ListNodes failed: %v", err)
	}

	want := []Node{
		{ID: "42", ComputerName: "web-1", InstanceName: "web-1", PowerState: PowerStateRunning, OSType: OSLinux},
		{ID: "43", ComputerName: "web-2", InstanceName: "web-2", PowerState: PowerStateStopped, OSType: OSUnknown},
	}
	if diff := cmp.Diff(want, nodes); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
}

func TestHetznerFleet_RemoveNode(t *testing.T) {
	var deleted string
	f := newTestHetznerFleet(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		deleted = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(deleteServerResponse))
	})

	if err := f.RemoveNode(context.Background(), "scaleset=web", "42"); err != nil {
		t.Fatalf("RemoveNode failed: %v", err)
	}
	if deleted != "/servers/42" {
		t.Errorf("expected DELETE /servers/42, got %q", deleted)
	}
}

func TestHetznerFleet_RemoveNode_Errors(t *testing.T) {
	f := newTestHetznerFleet(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": {"code": "not_found", "message": "server not found"}}`))
	})

	if err := f.RemoveNode(context.Background(), "scaleset=web", "not-a-number"); err == nil {
		t.Fatal("expected error for non-numeric ID")
	}
	err := f.RemoveNode(context.Background(), "scaleset=web", "7")
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestPowerStateFromHetzner(t *testing.T) {
	tests := []struct {
		in   hcloud.ServerStatus
		want PowerState
	}{
		{hcloud.ServerStatusInitializing, PowerStateStarting},
		{hcloud.ServerStatusRunning, PowerStateRunning},
		{hcloud.ServerStatusStopping, PowerStateDeallocating},
		{hcloud.ServerStatusDeleting, PowerStateDeallocating},
		{hcloud.ServerStatusOff, PowerStateStopped},
		{hcloud.ServerStatusUnknown, PowerStateUnknown},
	}
	for _, tt := range tests {
		if got := powerStateFromHetzner(tt.in); got != tt.want {
			t.Errorf("powerStateFromHetzner(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
