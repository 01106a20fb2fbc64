// Package promptrepo versions agent instructions in per-agent git
// repositories. History is linear on a single main branch; every instruction
// change is one commit, attributed to the user who made it.
package promptrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"relay/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const instructionsFile = "instructions.md"

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureAgentRepo creates the agent's repository with an initial commit of
// its instructions. It is a no-op if the repository already exists.
func (s *Service) EnsureAgentRepo(agentID, instructions, author string) error {
	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(agentID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, instructionsFile), []byte(instructions+"\n"), 0o644); err != nil {
		return fmt.Errorf("write initial instructions: %w", err)
	}
	if _, err := worktree.Add(instructionsFile); err != nil {
		return fmt.Errorf("git add initial instructions: %w", err)
	}
	hash, err := worktree.Commit("Create agent instructions", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial instructions: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitInstructions records a new instruction revision on main.
func (s *Service) CommitInstructions(agentID, instructions, author, message string) (store.RevisionInfo, error) {
	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(agentID))
	if err != nil {
		return store.RevisionInfo{}, fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return store.RevisionInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, instructionsFile), []byte(instructions+"\n"), 0o644); err != nil {
		return store.RevisionInfo{}, fmt.Errorf("write instructions: %w", err)
	}

	if _, err := worktree.Add(instructionsFile); err != nil {
		return store.RevisionInfo{}, fmt.Errorf("git add instructions: %w", err)
	}

	if message == "" {
		message = "Update agent instructions"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return store.RevisionInfo{}, fmt.Errorf("commit instructions: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.RevisionInfo{}, fmt.Errorf("read commit object: %w", err)
	}

	return toRevisionInfo(commitObj), nil
}

// Head returns the current instructions and the revision that produced them.
func (s *Service) Head(agentID string) (string, store.RevisionInfo, error) {
	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(agentID))
	if err != nil {
		return "", store.RevisionInfo{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return "", store.RevisionInfo{}, fmt.Errorf("resolve main: %w", err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", store.RevisionInfo{}, fmt.Errorf("load commit object: %w", err)
	}

	instructions, err := readInstructions(commitObj)
	if err != nil {
		return "", store.RevisionInfo{}, err
	}

	return instructions, toRevisionInfo(commitObj), nil
}

// GetByHash returns the instructions as of a specific revision. Abbreviated
// hashes are accepted.
func (s *Service) GetByHash(agentID, hash string) (string, store.RevisionInfo, error) {
	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(agentID))
	if err != nil {
		return "", store.RevisionInfo{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return "", store.RevisionInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return "", store.RevisionInfo{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	instructions, err := readInstructions(commitObj)
	if err != nil {
		return "", store.RevisionInfo{}, err
	}
	return instructions, toRevisionInfo(commitObj), nil
}

// History lists revisions newest first, up to limit (0 means all).
func (s *Service) History(agentID string, limit int) ([]store.RevisionInfo, error) {
	lock := s.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(agentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.RevisionInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevisionInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(agentID string) string {
	return filepath.Join(s.baseDir, agentID)
}

func (s *Service) agentLock(agentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[agentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[agentID] = lock
	return lock
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.relay.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func readInstructions(commitObj *object.Commit) (string, error) {
	file, err := commitObj.File(instructionsFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", instructionsFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read instructions: %w", err)
	}
	if len(contents) > 0 && contents[len(contents)-1] == '\n' {
		contents = contents[:len(contents)-1]
	}
	return contents, nil
}

func toRevisionInfo(commitObj *object.Commit) store.RevisionInfo {
	return store.RevisionInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	runes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			runes = append(runes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			runes = append(runes, '.')
		}
	}
	if len(runes) == 0 {
		return "user"
	}
	return string(runes)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
