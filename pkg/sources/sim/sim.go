// Package sim implements the "sim" backend: read-only channels that
// generate values on a timer.
//
// Channel names are function calls:
//
//	ramp(min, max, step[, interval])
//	sine(min, max, samples[, interval])
//	noise(min, max[, interval])
//	flipflop([interval])
//	const(value)
//
// Intervals are in seconds and default to one second. Generators run only
// while the channel is in use.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chanmux/chanmux-go/pkg/datasource"
)

// Name is the conventional backend name.
const Name = "sim"

// DefaultInterval is used when a generator has no interval argument.
const DefaultInterval = time.Second

// ErrUnknownFunction is returned for a name that is no known generator.
var ErrUnknownFunction = errors.New("unknown simulation function")

// generator returns the value for tick n.
type generator func(n int) any

// Channel is one simulated channel.
type Channel struct {
	*datasource.MultiplexedChannelHandler[bool, any]

	gen      generator
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// Connect reports the connection, publishes the first value and starts
// the timer.
func (c *Channel) Connect() error {
	c.ProcessConnection(true)
	c.ProcessMessage(c.gen(0))
	if c.interval <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.run(c.stop)
	return nil
}

func (c *Channel) run(stop <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ticker.C:
			c.ProcessMessage(c.gen(n))
		case <-stop:
			return
		}
	}
}

// Disconnect stops the timer and waits for it.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		c.wg.Wait()
	}
	return nil
}

// CheckConnected implements datasource.ConnectionChecker.
func (c *Channel) CheckConnected(connected bool) bool { return connected }

// Source is the simulation data source.
type Source struct {
	*datasource.Base
	opts datasource.HandlerOptions
}

// New creates a simulation data source.
func New(config datasource.Config) *Source {
	if config.Name == "" {
		config.Name = Name
	}
	s := &Source{opts: datasource.HandlerOptions{
		DataSource: config.Name,
		Logger:     config.Logger,
		EventLog:   config.EventLog,
		Metrics:    config.Metrics,
	}}
	s.Base = datasource.NewBase(s, config)
	return s
}

// Provider returns a provider creating simulation data sources.
func Provider(config datasource.Config) datasource.Provider {
	name := config.Name
	if name == "" {
		name = Name
	}
	return datasource.ProviderFunc(name, func() (datasource.DataSource, error) {
		return New(config), nil
	})
}

// CreateChannel implements datasource.ChannelFactory.
func (s *Source) CreateChannel(name string) (datasource.ChannelHandler, error) {
	gen, interval, err := parse(name)
	if err != nil {
		return nil, err
	}
	c := &Channel{gen: gen, interval: interval}
	c.MultiplexedChannelHandler = datasource.NewMultiplexedChannelHandler[bool, any](name, c, s.opts)
	return c, nil
}

// ChannelHandlerLookupName drops blanks so "ramp(0, 1, 1)" and
// "ramp(0,1,1)" share a channel.
func (s *Source) ChannelHandlerLookupName(name string) string {
	return strings.Join(strings.Fields(name), "")
}

// parse returns the generator and interval for a channel name.
func parse(name string) (generator, time.Duration, error) {
	fn, args, err := splitCall(name)
	if err != nil {
		return nil, 0, err
	}

	switch fn {
	case "const":
		if len(args) != 1 {
			return nil, 0, argCount(name, "1")
		}
		v := constant(args[0])
		return func(int) any { return v }, 0, nil
	case "flipflop":
		_, interval, err := numbers(name, args, 0)
		if err != nil {
			return nil, 0, err
		}
		return func(n int) any { return n%2 == 1 }, interval, nil
	case "ramp":
		nums, interval, err := numbers(name, args, 3)
		if err != nil {
			return nil, 0, err
		}
		return ramp(nums[0], nums[1], nums[2]), interval, nil
	case "sine":
		nums, interval, err := numbers(name, args, 3)
		if err != nil {
			return nil, 0, err
		}
		if nums[2] < 1 {
			return nil, 0, fmt.Errorf("%w: %q: samples must be at least 1", datasource.ErrMalformedChannelName, name)
		}
		return sine(nums[0], nums[1], nums[2]), interval, nil
	case "noise":
		nums, interval, err := numbers(name, args, 2)
		if err != nil {
			return nil, 0, err
		}
		lo, hi := nums[0], nums[1]
		return func(int) any { return lo + rand.Float64()*(hi-lo) }, interval, nil
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownFunction, fn)
	}
}

func ramp(lo, hi, step float64) generator {
	span := hi - lo
	return func(n int) any {
		if span <= 0 || step == 0 {
			return lo
		}
		steps := math.Floor(span/math.Abs(step)) + 1
		i := math.Mod(float64(n), steps)
		if step < 0 {
			return hi + i*step
		}
		return lo + i*step
	}
}

func sine(lo, hi, samples float64) generator {
	return func(n int) any {
		phase := 2 * math.Pi * float64(n) / samples
		return lo + (hi-lo)*(0.5+0.5*math.Sin(phase))
	}
}

// splitCall splits "fn(a, b)" into "fn" and its trimmed arguments. A bare
// name has no arguments.
func splitCall(name string) (string, []string, error) {
	name = strings.TrimSpace(name)
	open := strings.IndexByte(name, '(')
	if open < 0 {
		return name, nil, nil
	}
	if !strings.HasSuffix(name, ")") {
		return "", nil, fmt.Errorf("%w: %q", datasource.ErrMalformedChannelName, name)
	}
	fn := strings.TrimSpace(name[:open])
	inner := strings.TrimSpace(name[open+1 : len(name)-1])
	if inner == "" {
		return fn, nil, nil
	}
	args := strings.Split(inner, ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	return fn, args, nil
}

// numbers parses want required numbers and an optional trailing interval.
func numbers(name string, args []string, want int) ([]float64, time.Duration, error) {
	if len(args) != want && len(args) != want+1 {
		return nil, 0, argCount(name, fmt.Sprintf("%d or %d", want, want+1))
	}
	nums := make([]float64, len(args))
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %q: %q is not a number", datasource.ErrMalformedChannelName, name, a)
		}
		nums[i] = f
	}

	interval := DefaultInterval
	if len(nums) > want {
		if nums[want] <= 0 {
			return nil, 0, fmt.Errorf("%w: %q: interval must be positive", datasource.ErrMalformedChannelName, name)
		}
		interval = time.Duration(nums[want] * float64(time.Second))
	}
	return nums[:want], interval, nil
}

func constant(arg string) any {
	if f, err := strconv.ParseFloat(arg, 64); err == nil {
		return f
	}
	if s, err := strconv.Unquote(arg); err == nil {
		return s
	}
	return arg
}

func argCount(name, want string) error {
	return fmt.Errorf("%w: %q takes %s arguments", datasource.ErrMalformedChannelName, name, want)
}

var _ datasource.LookupNamer = (*Source)(nil)
