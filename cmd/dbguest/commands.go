package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/loykin/dbguest/pkg/client"
	"github.com/loykin/dbguest/pkg/template"
)

// command carries what every subcommand needs.
type command struct {
	global   *GlobalFlags
	sessions *SessionManager
	out      io.Writer
}

func (c *command) Status(f APIFlags) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	st, err := cl.Status(context.Background())
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

func (c *command) UpdateStatus(f APIFlags) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	st, err := cl.UpdateStatus(context.Background())
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

// Prepare sends a request read from --file, or generated from --template.
func (c *command) Prepare(f PrepareFlags, api APIFlags) error {
	req, err := loadPrepareRequest(f)
	if err != nil {
		return err
	}
	cl, err := c.apiClient(api)
	if err != nil {
		return err
	}
	st, err := cl.Prepare(context.Background(), *req)
	if err != nil {
		return fmt.Errorf("prepare failed: %w", err)
	}
	printJSON(c.out, st)
	return nil
}

func loadPrepareRequest(f PrepareFlags) (*client.PrepareRequest, error) {
	switch {
	case f.File != "" && f.Template != "":
		return nil, fmt.Errorf("--file and --template are mutually exclusive")
	case f.File != "":
		data, err := os.ReadFile(f.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read request file: %w", err)
		}
		var req client.PrepareRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid request file %s: %w", f.File, err)
		}
		return &req, nil
	case f.Template != "":
		return template.NewGenerator().Generate(template.TemplateType(f.Template), f.Database)
	}
	return nil, fmt.Errorf("one of --file or --template is required")
}

func (c *command) Start(f StartFlags, api APIFlags) error {
	cl, err := c.apiClient(api)
	if err != nil {
		return err
	}
	st, err := cl.Start(context.Background(), f.Persist)
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

func (c *command) Stop(f StopFlags, api APIFlags) error {
	cl, err := c.apiClient(api)
	if err != nil {
		return err
	}
	st, err := cl.Stop(context.Background(), client.StopOptions{
		Persist:            f.Persist,
		DoNotStartOnReboot: f.DoNotStartOnReboot,
	})
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

func (c *command) Restart(api APIFlags) error {
	cl, err := c.apiClient(api)
	if err != nil {
		return err
	}
	st, err := cl.Restart(context.Background())
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

func (c *command) History(f HistoryFlags, api APIFlags) error {
	cl, err := c.apiClient(api)
	if err != nil {
		return err
	}
	events, err := cl.History(context.Background(), f.Limit)
	if err != nil {
		return err
	}
	printJSON(c.out, events)
	return nil
}

func (c *command) Filesystem(f FilesystemFlags, api APIFlags) error {
	cl, err := c.apiClient(api)
	if err != nil {
		return err
	}
	stats, err := cl.Filesystem(context.Background(), f.Path)
	if err != nil {
		return err
	}
	printJSON(c.out, stats)
	return nil
}

type volumeOp func(*client.Client, context.Context, client.VolumeRequest) error

// Volume runs one of the volume operations and reports the device.
func (c *command) Volume(op volumeOp, name string, f VolumeFlags, api APIFlags) error {
	cl, err := c.apiClient(api)
	if err != nil {
		return err
	}
	if err := op(cl, context.Background(), client.VolumeRequest{Device: f.Device, MountPoint: f.MountPoint}); err != nil {
		return fmt.Errorf("%s %s: %w", name, f.Device, err)
	}
	_, _ = fmt.Fprintf(c.out, "%s %s: ok\n", name, f.Device)
	return nil
}
