package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dotsetgreg/due/pkg/action"
)

const maxWait = time.Minute

// builtinActions is the catalog snapshots are bound against on load.
func builtinActions(now func() time.Time) *action.Registry {
	if now == nil {
		now = time.Now
	}
	return action.NewRegistry().MustRegister(
		action.Action{
			Name:        "get_time",
			Description: "Report the current wall clock time",
			Parameters: action.ObjectSchema(nil, map[string]string{
				"timezone": "IANA zone name, local time when empty",
			}),
			Handler: func(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
				loc := time.Local
				if tz, _ := args["timezone"].(string); strings.TrimSpace(tz) != "" {
					l, err := time.LoadLocation(tz)
					if err != nil {
						return nil, fmt.Errorf("unknown timezone %q", tz)
					}
					loc = l
				}
				return map[string]interface{}{"time": now().In(loc).Format("15:04")}, nil
			},
		},
		action.Action{
			Name:        "echo",
			Description: "Return the given text unchanged",
			Parameters:  action.ObjectSchema([]string{"text"}, map[string]string{"text": "text to echo"}),
			Handler: func(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
				return map[string]interface{}{"text": args["text"]}, nil
			},
		},
		action.Action{
			Name:        "wait",
			Description: "Wait a number of seconds in the background",
			Parameters:  action.ObjectSchema(nil, map[string]string{"seconds": "whole seconds, 1 when empty"}),
			Mode:        action.ModeAsync,
			Cancellable: true,
			Timeout:     maxWait + 5*time.Second,
			Handler: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
				d, err := waitDuration(args["seconds"])
				if err != nil {
					return nil, err
				}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(d):
					return map[string]interface{}{"waited": d.String()}, nil
				}
			},
		},
	)
}

func waitDuration(raw interface{}) (time.Duration, error) {
	s, _ := raw.(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Second, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("seconds must be a non-negative integer, got %q", s)
	}
	d := time.Duration(n) * time.Second
	if d > maxWait {
		d = maxWait
	}
	return d, nil
}
