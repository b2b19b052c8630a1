// Package localctrl stores uploads on the local filesystem. Upload URLs
// point back at this service and carry a signed, expiring token naming the
// object key.
package localctrl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"logingest/src/apperr"
	"logingest/src/core/job"
)

// UploadPath is the route prefix that accepts signed uploads.
const UploadPath = "/uploads/"

type Config struct {
	Root      string
	PublicURL string
	Secret    string
}

type Store struct {
	root      string
	publicURL string
	secret    []byte
	now       func() time.Time
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.Secret == "" {
		return nil, errors.New("local storage signing secret is empty")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Store{
		root:      root,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		secret:    []byte(cfg.Secret),
		now:       time.Now,
	}, nil
}

func (s *Store) Bucket() string { return filepath.Base(s.root) }

func (s *Store) Type() job.StorageType { return job.StorageLocal }

func (s *Store) PresignedUploadURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(key); err != nil {
		return "", err
	}
	claims := jwt.RegisteredClaims{
		Subject:   key,
		ExpiresAt: jwt.NewNumericDate(s.now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", apperr.ErrStorage.WithMessage("Failed to sign upload URL").Wrap(err)
	}
	return s.publicURL + UploadPath + key + "?token=" + url.QueryEscape(token), nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperr.ErrStorage.WithMessage("Failed to check object").Wrap(err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *Store) Ping(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return apperr.ErrStorage.Wrap(err)
	}
	if !info.IsDir() {
		return apperr.ErrStorage.WithMessage("Storage root %s is not a directory", s.root)
	}
	return nil
}

// Authorize checks that token grants an upload of key.
func (s *Store) Authorize(key, token string) error {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(key),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return apperr.ErrInvalidToken.WithMessage("Invalid or expired upload URL").Wrap(err)
	}
	return nil
}

// Write stores at most limit bytes from r under key. A partial file is
// removed when the copy fails.
func (s *Store) Write(key string, r io.Reader, limit int64) (int64, error) {
	p, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return 0, apperr.ErrStorage.Wrap(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return 0, apperr.ErrStorage.Wrap(err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, apperr.ErrStorage.WithMessage("Failed to write object").Wrap(err)
	}
	if n > limit {
		return 0, apperr.ErrValidation.WithMessage("Upload exceeds %d bytes", limit)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return 0, apperr.ErrStorage.Wrap(err)
	}
	return n, nil
}

func (s *Store) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || strings.Contains(key, "..") || clean != "/"+key {
		return "", apperr.ErrValidation.WithMessage("Invalid object key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}
