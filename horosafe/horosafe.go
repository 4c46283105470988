// Package horosafe holds the small safety checks shared by the fetcher, the
// stores and the notifiers: URL scheme and address checks for watched
// sites, path containment for files derived from URLs, webhook secret
// length, and bounded body reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// MinSecretLen is the minimum webhook signing secret length (256 bits).
const MinSecretLen = 32

// MaxPageBody caps how much of a fetched page is read (10 MiB).
const MaxPageBody int64 = 10 << 20

// MaxResponseBody caps reads of notifier API responses (1 MiB).
const MaxResponseBody int64 = 1 << 20

var (
	// ErrSecretTooShort is returned when a secret is under MinSecretLen.
	ErrSecretTooShort = fmt.Errorf("horosafe: secret must be at least %d bytes", MinSecretLen)
	// ErrPathTraversal is returned when a derived path escapes its base.
	ErrPathTraversal = errors.New("horosafe: path traversal detected")
	// ErrPrivateAddress is returned when a URL targets a private or loopback address.
	ErrPrivateAddress = errors.New("horosafe: URL targets a private or loopback address")
	// ErrUnsafeScheme is returned for anything but http and https.
	ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")
	// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
	ErrTooLarge = errors.New("horosafe: body exceeds limit")
)

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// SafePath joins base and name and fails if name has a ".." element or
// the result leaves base.
func SafePath(base, name string) (string, error) {
	for _, el := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if el == ".." {
			return "", ErrPathTraversal
		}
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+name))
	root := filepath.Clean(base)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// CheckURL checks that rawURL is http(s) with a host. Unless allowPrivate,
// literal private and loopback IPs are rejected; hostnames are not resolved
// since watched sites are operator-supplied.
func CheckURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	if allowPrivate {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return ErrPrivateAddress
	}
	if strings.EqualFold(host, "localhost") {
		return ErrPrivateAddress
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and returns ErrTooLarge
// (wrapped) past that.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

var privateNets = func() []*net.IPNet {
	var out []*net.IPNet
	for _, s := range []string{
		"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
		"169.254.0.0/16", "fc00::/7",
	} {
		_, n, err := net.ParseCIDR(s)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
