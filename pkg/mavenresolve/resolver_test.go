// SPDX-License-Identifier: MPL-2.0

package mavenresolve

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestResolve_TransitiveClosureIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(t)
	jar := buildJar(t, map[string][]byte{"README": []byte("x")})
	repo.publish(t, "com.example:a:1", pomXML("com.example:a:1", []dep{
		{coord: "com.example:b:1", scope: "compile"},
		{coord: "com.example:t:1", scope: "test"},
		{coord: "com.example:p:1", scope: "provided"},
		{coord: "com.example:o:1", optional: true},
		{coord: "com.example:s:1"},
		{coord: "org.jetbrains.kotlin:kotlin-stdlib-jdk8:1.9.0"},
		{coord: "${project.groupId}:sib:${project.version}"},
	}), jar)
	// b redeclares itself and its dependent
	repo.publish(t, "com.example:b:1", pomXML("com.example:b:1", []dep{
		{coord: "com.example:b:1"},
		{coord: "com.example:a:1"},
	}), jar)
	repo.publish(t, "com.example:s:1", pomXML("com.example:s:1", nil), jar)
	repo.publish(t, "com.example:sib:1", pomXML("com.example:sib:1", nil), jar)

	r := newTestResolver(t, repo.repo())
	req := Request{Dependencies: []string{"com.example:a:1", "com.example:a:1"}}

	cold, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(cold.Warnings) != 0 {
		t.Fatalf("Warnings = %v, want none", cold.Warnings)
	}

	var keys []string
	for _, a := range cold.Artifacts {
		keys = append(keys, a.Coordinate.Key())
	}
	want := []string{"com.example:a:1", "com.example:b:1", "com.example:s:1", "com.example:sib:1"}
	if !slices.Equal(keys, want) {
		t.Errorf("artifacts = %v, want %v", keys, want)
	}
	if !cold.Artifacts[0].Direct || cold.Artifacts[1].Direct {
		t.Error("Direct flags wrong")
	}
	if got := repo.count("com/example/a/1/a-1.jar"); got != 1 {
		t.Errorf("a jar fetched %d times, want 1", got)
	}

	before := repo.total()
	warm, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("warm Resolve() error = %v", err)
	}
	if !slices.Equal(warm.Classpath(), cold.Classpath()) {
		t.Errorf("warm classpath = %v, want %v", warm.Classpath(), cold.Classpath())
	}
	if after := repo.total(); after != before {
		t.Errorf("warm run made %d requests, want 0", after-before)
	}

	m, err := LoadManifest(r.Dir())
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if e, ok := m.Artifacts["com.example:a:1"]; !ok || e.Repository != repo.URL || e.Size != int64(len(jar)) {
		t.Errorf("manifest entry = %+v, ok=%v", e, ok)
	}
}

func TestResolve_SelfReferenceTerminates(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(t)
	repo.publish(t, "g:x:1", pomXML("g:x:1", []dep{{coord: "g:x:1", scope: "compile"}}), buildJar(t, nil))

	res, err := newTestResolver(t, repo.repo()).Resolve(context.Background(), Request{Dependencies: []string{"g:x:1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Coordinate.Key() != "g:x:1" {
		t.Errorf("artifacts = %+v, want exactly g:x:1", res.Artifacts)
	}
}

func TestResolve_RepositoriesTriedInOrder(t *testing.T) {
	t.Parallel()

	empty := newFakeRepo(t)
	full := newFakeRepo(t)
	full.publish(t, "g:x:1", pomXML("g:x:1", nil), buildJar(t, nil))

	r := newTestResolver(t)
	res, err := r.Resolve(context.Background(), Request{
		Dependencies: []string{"g:x:1"},
		Repositories: []string{empty.URL, full.URL + "/"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 0 || len(res.Artifacts) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Artifacts[0].Repository != full.repo() {
		t.Errorf("Repository = %s, want %s", res.Artifacts[0].Repository, full.repo())
	}
	if empty.count("g/x/1/x-1.pom") != 1 {
		t.Error("first repository was not consulted")
	}
}

func TestResolve_InheritsPOMRepositories(t *testing.T) {
	t.Parallel()

	central := newFakeRepo(t)
	extra := newFakeRepo(t)
	central.publish(t, "g:app:1", pomXML("g:app:1", []dep{{coord: "g:lib:2"}}, extra.URL), buildJar(t, nil))
	extra.publish(t, "g:lib:2", pomXML("g:lib:2", nil), buildJar(t, nil))

	res, err := newTestResolver(t, central.repo()).Resolve(context.Background(), Request{Dependencies: []string{"g:app:1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Artifacts) != 2 || res.Artifacts[1].Repository != extra.repo() {
		t.Errorf("artifacts = %+v, want g:lib:2 from the POM repository", res.Artifacts)
	}
}

func TestResolve_FailuresDegradeToWarnings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	local := filepath.Join(dir, "libs", "local.jar")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, buildJar(t, nil), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := New(Options{Dir: t.TempDir(), Retries: -1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })

	res, err := r.Resolve(context.Background(), Request{
		Dependencies: []string{"com.unreachable:lib:1.0", "libs/local.jar", "libs/missing.jar", "not-a-coordinate"},
		Repositories: []string{"http://127.0.0.1:1", "ftp://nope"},
		BaseDir:      dir,
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}
	if got := res.Classpath(); !slices.Equal(got, []string{local}) {
		t.Errorf("Classpath() = %v, want [%s]", got, local)
	}

	subjects := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		subjects = append(subjects, w.Subject)
	}
	for _, want := range []string{"com.unreachable:lib:1.0", "libs/missing.jar", "not-a-coordinate", "ftp://nope"} {
		if !slices.Contains(subjects, want) {
			t.Errorf("warnings %v missing %q", subjects, want)
		}
	}
	for _, w := range res.Warnings {
		if w.Subject == "not-a-coordinate" && !errors.Is(w.Err, ErrInvalidCoordinate) {
			t.Errorf("coordinate warning = %v, want ErrInvalidCoordinate", w.Err)
		}
	}
}

func TestResolve_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(t)
	repo.publish(t, "g:x:1", pomXML("g:x:1", nil), buildJar(t, nil))
	repo.failNext("g/x/1/x-1.jar", 2)

	res, err := newTestResolver(t, repo.repo()).Resolve(context.Background(), Request{Dependencies: []string{"g:x:1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("artifacts = %+v, warnings = %v", res.Artifacts, res.Warnings)
	}
	if got := repo.count("g/x/1/x-1.jar"); got != 3 {
		t.Errorf("jar requested %d times, want 3", got)
	}
}

func TestResolve_ConcurrentRequestsShareDownloads(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(t)
	repo.publish(t, "g:x:1", pomXML("g:x:1", nil), buildJar(t, nil))
	r := newTestResolver(t, repo.repo())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), Request{Dependencies: []string{"g:x:1"}})
			if err != nil || len(res.Artifacts) != 1 {
				t.Errorf("Resolve() = %+v, %v", res, err)
			}
		}()
	}
	wg.Wait()

	if got := repo.count("g/x/1/x-1.jar"); got != 1 {
		t.Errorf("jar downloaded %d times, want 1", got)
	}
	entries, err := os.ReadDir(r.Dir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestResolve_ConcurrentJobsKeepOwnRepositories(t *testing.T) {
	t.Parallel()

	var (
		hit     = make(chan struct{}, 16)
		release = make(chan struct{})
		once    sync.Once
	)
	unblock := func() { once.Do(func() { close(release) }) }
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hit <- struct{}{}
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		http.NotFound(w, req)
	}))
	t.Cleanup(empty.Close)
	t.Cleanup(unblock)

	full := newFakeRepo(t)
	full.publish(t, "g:x:1", pomXML("g:x:1", nil), buildJar(t, nil))
	r := newTestResolver(t)

	first := make(chan *Result, 1)
	go func() {
		res, _ := r.Resolve(context.Background(), Request{Dependencies: []string{"g:x:1"}, Repositories: []string{empty.URL}})
		first <- res
	}()
	<-hit

	second := make(chan *Result, 1)
	go func() {
		res, _ := r.Resolve(context.Background(), Request{Dependencies: []string{"g:x:1"}, Repositories: []string{full.URL}})
		second <- res
	}()

	var res *Result
	select {
	case res = <-second:
	case <-time.After(3 * time.Second):
		t.Error("second request waited on the first request's repositories")
	}
	unblock()
	if res == nil {
		res = <-second
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Repository != full.repo() {
		t.Errorf("second request = %+v, warnings = %v", res.Artifacts, res.Warnings)
	}
	if got := <-first; len(got.Artifacts) != 0 || len(got.Warnings) != 1 {
		t.Errorf("first request = %+v, warnings = %v", got.Artifacts, got.Warnings)
	}
}

func TestResolve_SharedDownloadSurvivesOtherCancellation(t *testing.T) {
	t.Parallel()

	var (
		hit     = make(chan struct{}, 16)
		release = make(chan struct{})
		once    sync.Once
		mu      sync.Mutex
		calls   int
	)
	unblock := func() { once.Do(func() { close(release) }) }
	jar := buildJar(t, nil)
	pom := []byte(pomXML("g:x:1", nil))
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			hit <- struct{}{}
			select {
			case <-release:
			case <-req.Context().Done():
				return
			}
		}
		if strings.HasSuffix(req.URL.Path, ".pom") {
			_, _ = w.Write(pom)
			return
		}
		_, _ = w.Write(jar)
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(unblock)
	r := newTestResolver(t, Repository(slow.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, Request{Dependencies: []string{"g:x:1"}})
		cancelled <- err
	}()
	<-hit

	done := make(chan *Result, 1)
	go func() {
		res, err := r.Resolve(context.Background(), Request{Dependencies: []string{"g:x:1"}})
		if err != nil {
			t.Errorf("Resolve() error = %v", err)
		}
		done <- res
	}()
	// let the second request join the shared download before cancelling
	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := <-cancelled; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Resolve() error = %v", err)
	}
	unblock()
	select {
	case res := <-done:
		if res == nil || len(res.Artifacts) != 1 || len(res.Warnings) != 0 {
			t.Errorf("Resolve() = %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve() did not finish")
	}
}

func TestResolve_HostProvidedNeverFetched(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(t)
	jar := buildJar(t, nil)
	repo.publish(t, "g:app:1", pomXML("g:app:1", []dep{
		{coord: "org.jetbrains.kotlin:kotlin-stdlib:2.0.0"},
		{coord: "g:lib:1"},
	}), jar)
	repo.publish(t, "g:lib:1", pomXML("g:lib:1", nil), jar)
	repo.publish(t, "org.jetbrains.kotlin:kotlin-stdlib:2.0.0", pomXML("org.jetbrains.kotlin:kotlin-stdlib:2.0.0", nil), jar)

	// Options as the CLI builds them from the default configuration.
	r, err := New(Options{Dir: t.TempDir(), DefaultRepositories: []Repository{repo.repo()}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })

	res, err := r.Resolve(context.Background(), Request{Dependencies: []string{"g:app:1"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	var keys []string
	for _, a := range res.Artifacts {
		keys = append(keys, a.Coordinate.Key())
	}
	if !slices.Equal(keys, []string{"g:app:1", "g:lib:1"}) {
		t.Errorf("artifacts = %v", keys)
	}
	if got := repo.count("org/jetbrains/kotlin/kotlin-stdlib/2.0.0/kotlin-stdlib-2.0.0.pom"); got != 0 {
		t.Errorf("kotlin-stdlib POM fetched %d times", got)
	}
}

func TestResolve_RelocatedVariantSelected(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(t)
	jar := buildJar(t, map[string][]byte{
		"com/google/gson/Gson.class":                  classFile("com/google/gson/Gson"),
		"META-INF/services/com.google.gson.Extension": []byte("com.google.gson.internal.Impl\n"),
		"META-INF/MANIFEST.MF":                        []byte("Manifest-Version: 1.0\n"),
		"META-INF/SIGNER.SF":                          []byte("sig"),
	})
	repo.publish(t, "com.google.code.gson:gson:2.10", pomXML("com.google.code.gson:gson:2.10", nil), jar)

	rules := []Relocation{{Pattern: "com.google.gson", Replacement: "kite.libs.gson"}}
	r := newTestResolver(t, repo.repo())
	res, err := r.Resolve(context.Background(), Request{
		Dependencies: []string{"com.google.code.gson:gson:2.10"},
		Relocations:  rules,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Artifacts) != 1 || !res.Artifacts[0].Relocated {
		t.Fatalf("artifacts = %+v, warnings = %v", res.Artifacts, res.Warnings)
	}
	c, _ := ParseCoordinate("com.google.code.gson:gson:2.10")
	if want := filepath.Join(r.Dir(), c.RelocatedFileName(Fingerprint(rules))); res.Artifacts[0].Path != want {
		t.Errorf("Path = %s, want %s", res.Artifacts[0].Path, want)
	}

	data, err := os.ReadFile(res.Artifacts[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	entries := readJar(t, data)
	class, ok := entries["kite/libs/gson/Gson.class"]
	if !ok {
		t.Fatalf("relocated class missing, entries: %v", entries)
	}
	if got := firstUTF8(t, class); got != "kite/libs/gson/Gson" {
		t.Errorf("class name constant = %q, want kite/libs/gson/Gson", got)
	}
	if got := string(entries["META-INF/services/kite.libs.gson.Extension"]); got != "kite.libs.gson.internal.Impl\n" {
		t.Errorf("service file = %q", got)
	}
	if _, ok := entries["META-INF/SIGNER.SF"]; ok {
		t.Error("signature file kept in relocated jar")
	}

	plain, err := r.Resolve(context.Background(), Request{Dependencies: []string{"com.google.code.gson:gson:2.10"}})
	if err != nil {
		t.Fatal(err)
	}
	if plain.Artifacts[0].Relocated || plain.Artifacts[0].Path != filepath.Join(r.Dir(), c.FileName()) {
		t.Errorf("unrelocated request selected %+v", plain.Artifacts[0])
	}
}

func TestResolve_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestResolver(t).Resolve(ctx, Request{Dependencies: []string{"g:x:1"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
}

func TestNew_RequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Error("New() without Dir succeeded")
	}
}
