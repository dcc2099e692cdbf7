package dispatch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/nimeshabuddhika/fraud-router/pkg"
)

type Scheme string

const (
	SchemeKafka Scheme = "kafka"
	SchemeRedis Scheme = "redis"
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// allowedSchemes lists the identifier kinds each channel can publish to.
var allowedSchemes = map[Channel][]Scheme{
	ChannelAlert: {SchemeKafka, SchemeHTTP, SchemeHTTPS},
	ChannelClean: {SchemeKafka, SchemeRedis},
}

var kafkaTopicPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,249}$`)

// Destination is a parsed channel identifier such as kafka://fraud-alerts,
// redis://clean-transactions or https://hooks.example.com/fraud.
type Destination struct {
	Scheme Scheme
	// Name is the topic or stream for kafka/redis, the full URL for http(s).
	Name string
	Raw  string
}

func (d Destination) String() string { return d.Raw }

// ParseDestination parses a URL-style destination identifier. ARNs are refused
// here because the transports only accept names and URLs, and an ARN would
// otherwise be discovered only at the first publish.
func ParseDestination(raw string) (Destination, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Destination{}, pkg.NewAppError(pkg.ErrConfigCode, "invalid destination", pkg.ErrMissingDestination)
	}
	if strings.HasPrefix(strings.ToLower(raw), "arn:") {
		return Destination{}, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("invalid destination %q", raw), pkg.ErrArnDestination)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("invalid destination %q", raw), err)
	}

	dest := Destination{Scheme: Scheme(strings.ToLower(u.Scheme)), Raw: raw}
	switch dest.Scheme {
	case SchemeKafka, SchemeRedis:
		dest.Name = strings.Trim(u.Host+u.Path, "/")
		if dest.Name == "" {
			return Destination{}, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("destination %q has no name", raw), nil)
		}
		if dest.Scheme == SchemeKafka && !kafkaTopicPattern.MatchString(dest.Name) {
			return Destination{}, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("destination %q is not a valid kafka topic", raw), nil)
		}
	case SchemeHTTP, SchemeHTTPS:
		if u.Host == "" {
			return Destination{}, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("destination %q has no host", raw), nil)
		}
		dest.Name = u.String()
	default:
		return Destination{}, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("destination %q has unsupported scheme %q", raw, u.Scheme), nil)
	}
	return dest, nil
}

// ValidateFor checks that the destination kind is accepted by channel.
func (d Destination) ValidateFor(channel Channel) error {
	allowed, ok := allowedSchemes[channel]
	if !ok {
		return pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("unknown channel %q", channel), nil)
	}
	for _, s := range allowed {
		if s == d.Scheme {
			return nil
		}
	}
	return pkg.NewAppError(pkg.ErrConfigCode,
		fmt.Sprintf("destination %q is a %s identifier, %s channel accepts %v", d.Raw, d.Scheme, channel, allowed), nil)
}

// ResolveDestinations parses and validates both channel destinations.
func ResolveDestinations(alertRaw, cleanRaw string) (alert Destination, clean Destination, err error) {
	if alert, err = ParseDestination(alertRaw); err != nil {
		return Destination{}, Destination{}, err
	}
	if err = alert.ValidateFor(ChannelAlert); err != nil {
		return Destination{}, Destination{}, err
	}
	if clean, err = ParseDestination(cleanRaw); err != nil {
		return Destination{}, Destination{}, err
	}
	if err = clean.ValidateFor(ChannelClean); err != nil {
		return Destination{}, Destination{}, err
	}
	if alert.Scheme == clean.Scheme && alert.Name == clean.Name {
		return Destination{}, Destination{}, pkg.NewAppError(pkg.ErrConfigCode,
			fmt.Sprintf("alert and clean channels share destination %q", alert.Raw), nil)
	}
	return alert, clean, nil
}

// IsHTTP reports whether the destination is a webhook URL.
func (d Destination) IsHTTP() bool {
	return d.Scheme == SchemeHTTP || d.Scheme == SchemeHTTPS
}
