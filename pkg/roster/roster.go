// Package roster stores the people a matcher is built from. Each person is a
// JSON file under <data_dir>/people, optionally sealed with NaCl secretbox
// under a machine-derived key.
package roster

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/MrCodeEU/faceroll/pkg/matcher"
	"github.com/MrCodeEU/faceroll/pkg/recognition"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// Person is one enrolled person.
type Person struct {
	Label       string                   `json:"label"`
	Descriptors []recognition.Descriptor `json:"descriptors"`
	EnrolledAt  time.Time                `json:"enrolled_at"`
	LastSeen    time.Time                `json:"last_seen"`
	Metadata    map[string]string        `json:"metadata"`
}

// ErrPersonNotFound is returned when the label is not enrolled.
var ErrPersonNotFound = errors.New("person not found")

// ErrInvalidLabel is returned for labels that cannot be used as a file name.
var ErrInvalidLabel = errors.New("invalid label")

// ErrEncryption is returned when sealing or opening a record fails.
var ErrEncryption = errors.New("encryption error")

// Store is a file-backed roster.
type Store struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewStore opens the roster under dataDir, creating the people directory.
func NewStore(dataDir string, encryptionEnabled bool) (*Store, error) {
	s := &Store{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		s.encryptionKey = deriveKey()
	}

	if err := os.MkdirAll(s.peopleDir(), 0700); err != nil {
		return nil, fmt.Errorf("failed to create people directory: %w", err)
	}

	return s, nil
}

// deriveKey ties sealed records to this machine and user.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	fmt.Fprintf(&identity, "%d", os.Getuid())
	identity.WriteString("faceroll-v1-salt")

	return sha256.Sum256([]byte(identity.String()))
}

func (s *Store) peopleDir() string {
	return filepath.Join(s.dataDir, "people")
}

// ValidateLabel rejects labels that are empty or would escape the people
// directory.
func ValidateLabel(label string) error {
	if label == "" || label == "." || label == ".." ||
		strings.ContainsAny(label, `/\`) || strings.HasPrefix(label, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return nil
}

func (s *Store) personPath(label string) string {
	ext := ".json"
	if s.encryptionEnabled {
		ext = ".enc"
	}
	return filepath.Join(s.peopleDir(), label+ext)
}

// Save writes a person record, replacing any previous one.
func (s *Store) Save(p Person) error {
	if err := ValidateLabel(p.Label); err != nil {
		return err
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal person: %w", err)
	}

	if s.encryptionEnabled {
		data, err = s.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt person: %w", err)
		}
	}

	if err := os.WriteFile(s.personPath(p.Label), data, 0600); err != nil {
		return fmt.Errorf("failed to write person: %w", err)
	}

	logging.Debugf("Saved roster entry: %s", p.Label)
	return nil
}

// Load reads one person.
func (s *Store) Load(label string) (*Person, error) {
	if err := ValidateLabel(label); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.personPath(label))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPersonNotFound
		}
		return nil, fmt.Errorf("failed to read person: %w", err)
	}

	if s.encryptionEnabled {
		data, err = s.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s: %w", label, err)
		}
	}

	var p Person
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", label, err)
	}
	return &p, nil
}

// Delete removes a person.
func (s *Store) Delete(label string) error {
	if err := ValidateLabel(label); err != nil {
		return err
	}

	if err := os.Remove(s.personPath(label)); err != nil {
		if os.IsNotExist(err) {
			return ErrPersonNotFound
		}
		return fmt.Errorf("failed to delete person: %w", err)
	}

	logging.Infof("Deleted roster entry: %s", label)
	return nil
}

// List returns every label in the store, sorted. Records written with the
// other encryption setting are skipped.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.peopleDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list people: %w", err)
	}

	ext := filepath.Ext(s.personPath("x"))
	labels := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := entry.Name(); strings.HasSuffix(name, ext) {
			labels = append(labels, strings.TrimSuffix(name, ext))
		}
	}
	sort.Strings(labels)
	return labels, nil
}

// Exists reports whether label is enrolled.
func (s *Store) Exists(label string) bool {
	if ValidateLabel(label) != nil {
		return false
	}
	_, err := os.Stat(s.personPath(label))
	return err == nil
}

// Add appends a descriptor to label, enrolling the person if needed.
// Metadata keys are merged into the record.
func (s *Store) Add(label string, d recognition.Descriptor, metadata map[string]string) error {
	p, err := s.Load(label)
	switch {
	case errors.Is(err, ErrPersonNotFound):
		p = &Person{Label: label, EnrolledAt: time.Now(), Metadata: map[string]string{}}
	case err != nil:
		return err
	}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}

	p.Descriptors = append(p.Descriptors, d)
	for k, v := range metadata {
		p.Metadata[k] = v
	}
	return s.Save(*p)
}

// Touch records that label was just matched.
func (s *Store) Touch(label string) error {
	p, err := s.Load(label)
	if err != nil {
		return err
	}
	p.LastSeen = time.Now()
	return s.Save(*p)
}

// Roster returns one record per stored descriptor, sorted by label.
func (s *Store) Roster() ([]matcher.PersonRecord, error) {
	people, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	var records []matcher.PersonRecord
	for _, p := range people {
		for _, d := range p.Descriptors {
			records = append(records, matcher.PersonRecord{Label: p.Label, Descriptor: d.Slice()})
		}
	}
	return records, nil
}

// Labeled returns each person with all their descriptors, sorted by label.
func (s *Store) Labeled() ([]matcher.LabeledDescriptors, error) {
	people, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	out := make([]matcher.LabeledDescriptors, 0, len(people))
	for _, p := range people {
		if len(p.Descriptors) == 0 {
			continue
		}
		out = append(out, matcher.LabeledDescriptors{Label: p.Label, Descriptors: p.Descriptors})
	}
	return out, nil
}

func (s *Store) loadAll() ([]*Person, error) {
	labels, err := s.List()
	if err != nil {
		return nil, err
	}

	people := make([]*Person, 0, len(labels))
	for _, label := range labels {
		p, err := s.Load(label)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, nil
}

// encrypt encrypts data using NaCl secretbox.
func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
