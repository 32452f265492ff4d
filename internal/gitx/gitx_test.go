package gitx

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	if _, err := exec.LookPath(BinPath()); err != nil {
		t.Skip("git binary not available")
	}
	r := Repo{Dir: t.TempDir()}
	if err := r.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := r.SetUser("tester", "tester@cccopy.com"); err != nil {
		t.Fatalf("config: %v", err)
	}
	return r
}

func writeFile(t *testing.T, r Repo, rel, content string) {
	t.Helper()
	full := filepath.Join(r.Dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEmptyRepoQueries(t *testing.T) {
	r := newTestRepo(t)

	head, err := r.HeadCommit()
	if err != nil {
		t.Fatalf("HeadCommit on unborn branch: %v", err)
	}
	if head != "" {
		t.Errorf("unborn HEAD = %q, want empty", head)
	}

	tracked, err := r.LsTreeHead()
	if err != nil {
		t.Fatalf("LsTreeHead on unborn branch: %v", err)
	}
	if len(tracked) != 0 {
		t.Errorf("tracked set = %v, want empty", tracked)
	}

	commits, err := r.Log(0)
	if err != nil {
		t.Fatalf("Log on unborn branch: %v", err)
	}
	if len(commits) != 0 {
		t.Errorf("log = %v, want empty", commits)
	}
}

func TestCommitAndTrackedSet(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r, "src/a.txt", "A\n")
	writeFile(t, r, "src/b.txt", "B\n")

	if err := r.AddAll(); err != nil {
		t.Fatalf("AddAll: %v", err)
	}
	if err := r.Commit("first"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tracked, err := r.LsTreeHead()
	if err != nil {
		t.Fatalf("LsTreeHead: %v", err)
	}
	if len(tracked) != 2 {
		t.Fatalf("tracked %d paths, want 2: %v", len(tracked), tracked)
	}

	blob, err := r.HashObject("src/a.txt")
	if err != nil {
		t.Fatalf("HashObject: %v", err)
	}
	if tracked["src/a.txt"] != blob {
		t.Errorf("HEAD blob %s != hash-object %s", tracked["src/a.txt"], blob)
	}

	head, err := r.HeadCommit()
	if err != nil || head == "" {
		t.Fatalf("HeadCommit = %q, %v", head, err)
	}
}

func TestStatusAndDirtyDetection(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r, "a.txt", "one\n")
	if err := r.AddAll(); err != nil {
		t.Fatal(err)
	}
	if err := r.Commit("init"); err != nil {
		t.Fatal(err)
	}

	dirty, err := r.HasUncommitted()
	if err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Error("clean tree reported dirty")
	}

	writeFile(t, r, "a.txt", "two\n")
	writeFile(t, r, "new.txt", "hello\n")

	entries, err := r.StatusPorcelain()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, e := range entries {
		got[e.Path] = e.Code
	}
	if got["a.txt"] != " M" {
		t.Errorf("a.txt code = %q, want \" M\"", got["a.txt"])
	}
	if got["new.txt"] != "??" {
		t.Errorf("new.txt code = %q, want \"??\"", got["new.txt"])
	}
}

func TestCommitAuthorOverride(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r, "f.txt", "x\n")
	if err := r.AddAll(); err != nil {
		t.Fatal(err)
	}
	if err := r.CommitAuthor("uploaded", "alice <alice@cccopy.com>"); err != nil {
		t.Fatalf("CommitAuthor: %v", err)
	}

	author, err := r.run("log", "-1", "--pretty=format:%an <%ae>")
	if err != nil {
		t.Fatal(err)
	}
	if author != "alice <alice@cccopy.com>" {
		t.Errorf("author = %q", author)
	}

	committer, err := r.run("log", "-1", "--pretty=format:%cn")
	if err != nil {
		t.Fatal(err)
	}
	if committer != "tester" {
		t.Errorf("committer = %q, want repo config identity", committer)
	}
}

func TestShowAndCommitFiles(t *testing.T) {
	r := newTestRepo(t)
	writeFile(t, r, "doc.md", "v1\n")
	if err := r.AddAll(); err != nil {
		t.Fatal(err)
	}
	if err := r.Commit("add doc"); err != nil {
		t.Fatal(err)
	}

	head, _ := r.HeadCommit()
	content, err := r.Show(head, "doc.md")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if content != "v1" {
		t.Errorf("Show = %q, want %q", content, "v1")
	}

	files, err := r.CommitFiles(head)
	if err != nil {
		t.Fatalf("CommitFiles: %v", err)
	}
	if len(files) != 1 || files[0].Path != "doc.md" || files[0].Status != "Added" {
		t.Errorf("CommitFiles = %+v", files)
	}
}

func TestGitErrorShape(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.Show("deadbeef", "nope.txt")
	if err == nil {
		t.Fatal("Show of a bogus rev should fail")
	}
	var ge *GitError
	if !errors.As(err, &ge) {
		t.Fatalf("error type %T, want *GitError", err)
	}
	if ge.ExitCode == 0 {
		t.Error("exit code not captured")
	}
	if ge.Stderr == "" {
		t.Error("stderr not captured")
	}
	if !IsGitError(err) {
		t.Error("IsGitError miss")
	}
}

func TestVersionDetection(t *testing.T) {
	major, _, _ := Version()
	if major < 1 {
		t.Errorf("nonsense git major version %d", major)
	}
}
