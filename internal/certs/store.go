package certs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

var ErrNoCertificate = errors.New("no certificate configured")

// Definition names one certificate/key pair on disk.
type Definition struct {
	ID       string
	Hostname string
	CertFile string
	KeyFile  string
}

// Info describes a loaded certificate without its key material.
type Info struct {
	ID        string    `json:"id"`
	Hostnames []string  `json:"hostnames"`
	CertFile  string    `json:"cert_file"`
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
}

type certSet struct {
	byHost map[string]*tls.Certificate
	first  *tls.Certificate
	infos  []Info
}

// Store holds the live certificate set.
type Store struct {
	set    atomic.Pointer[certSet]
	logger *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{logger: logger}
	s.set.Store(&certSet{byHost: map[string]*tls.Certificate{}})
	return s
}

// Load reads every definition and replaces the live set. On error the previous
// set stays in place.
func (s *Store) Load(defs []Definition) error {
	next := &certSet{byHost: make(map[string]*tls.Certificate)}

	for i, def := range defs {
		cert, err := tls.LoadX509KeyPair(def.CertFile, def.KeyFile)
		if err != nil {
			return fmt.Errorf("load certificate %q: %w", def.ID, err)
		}

		leaf := cert.Leaf
		if leaf == nil {
			if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
				return fmt.Errorf("parse certificate %q: %w", def.ID, err)
			}
			cert.Leaf = leaf
		}

		hosts := leaf.DNSNames
		if def.Hostname != "" {
			hosts = []string{def.Hostname}
		}

		id := def.ID
		if id == "" {
			id = fmt.Sprintf("certificate-%d", i)
		}

		c := &cert
		for _, h := range hosts {
			h = strings.ToLower(h)
			if _, dup := next.byHost[h]; !dup {
				next.byHost[h] = c
			}
		}
		if next.first == nil {
			next.first = c
		}

		next.infos = append(next.infos, Info{
			ID:        id,
			Hostnames: hosts,
			CertFile:  def.CertFile,
			Subject:   leaf.Subject.String(),
			Issuer:    leaf.Issuer.String(),
			NotBefore: leaf.NotBefore,
			NotAfter:  leaf.NotAfter,
		})

		s.logger.Info("Loaded TLS certificate",
			slog.String("id", id),
			slog.Any("hostnames", hosts),
			slog.Time("not_after", leaf.NotAfter))
	}

	sort.Slice(next.infos, func(i, j int) bool { return next.infos[i].ID < next.infos[j].ID })
	s.set.Store(next)
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	set := s.set.Load()

	name := strings.ToLower(strings.TrimSuffix(hello.ServerName, "."))
	if name != "" {
		if c, ok := set.byHost[name]; ok {
			return c, nil
		}
		if i := strings.IndexByte(name, '.'); i > 0 {
			if c, ok := set.byHost["*"+name[i:]]; ok {
				return c, nil
			}
		}
	}

	if set.first == nil {
		return nil, ErrNoCertificate
	}
	return set.first, nil
}

// TLSConfig returns a server configuration resolving certificates from s.
func (s *Store) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: s.GetCertificate,
	}
}

// List describes every loaded certificate ordered by id.
func (s *Store) List() []Info {
	return s.set.Load().infos
}

// Get describes the certificate with the given id.
func (s *Store) Get(id string) (Info, bool) {
	for _, info := range s.set.Load().infos {
		if info.ID == id {
			return info, true
		}
	}
	return Info{}, false
}

// Len returns the number of loaded certificates.
func (s *Store) Len() int {
	return len(s.set.Load().infos)
}
