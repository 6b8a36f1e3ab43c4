package transport

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"metronome/internal/core"
)

// Constructor builds a transport factory from properties.
type Constructor func(props core.Properties) (Factory, error)

var (
	registryMu   sync.RWMutex
	constructors = map[string]Constructor{
		"dummy": dummyFromProperties,
		"http":  httpFromProperties,
		"mqtt":  mqttFromProperties,
	}
)

// Register adds or replaces a named transport.
func Register(name string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	constructors[name] = c
}

// Lookup finds a named transport.
func Lookup(name string) (Constructor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transport %q (known: %v)", core.ErrConfig, name, namesLocked())
	}
	return c, nil
}

// Names lists registered transports.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	known := make([]string, 0, len(constructors))
	for k := range constructors {
		known = append(known, k)
	}
	sort.Strings(known)
	return known
}

func dummyFromProperties(props core.Properties) (Factory, error) {
	delay, err := props.Duration("delay", 0)
	if err != nil {
		return nil, err
	}
	async, err := props.Bool("async", false)
	if err != nil {
		return nil, err
	}
	failEvery, err := props.Int("failEvery", 0)
	if err != nil {
		return nil, err
	}
	return NewDummyFactory(DummyConfig{Delay: delay, Async: async, FailEvery: int64(failEvery)}), nil
}

func httpFromProperties(props core.Properties) (Factory, error) {
	timeout, err := props.Duration("timeout", 0)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string)
	for k, v := range props {
		if name, ok := strings.CutPrefix(k, "header."); ok && name != "" {
			headers[name] = v
		}
	}
	return NewHTTPFactory(HTTPConfig{
		Method:  props.String("method", ""),
		URL:     props.String("url", ""),
		Headers: headers,
		Timeout: timeout,
	})
}

func mqttFromProperties(props core.Properties) (Factory, error) {
	qos, err := props.Int("qos", 0)
	if err != nil {
		return nil, err
	}
	retained, err := props.Bool("retained", false)
	if err != nil {
		return nil, err
	}
	timeout, err := props.Duration("connectTimeout", 0)
	if err != nil {
		return nil, err
	}
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("%w: mqtt qos must be 0, 1 or 2, got %d", core.ErrConfig, qos)
	}
	return NewMQTTFactory(MQTTConfig{
		Broker:         props.String("broker", ""),
		ClientID:       props.String("clientId", ""),
		RequestTopic:   props.String("requestTopic", ""),
		ResponseTopic:  props.String("responseTopic", ""),
		QoS:            byte(qos),
		Retained:       retained,
		ConnectTimeout: timeout,
	})
}
