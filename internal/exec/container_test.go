package exec

import "testing"

func TestContainerEntryRecognizesDockerExecBash(t *testing.T) {
	id, runtime, shell, ok := ContainerEntry("docker exec -it my-nginx /bin/bash")
	if !ok {
		t.Fatal("expected docker exec -it to be recognized")
	}
	if id != "my-nginx" || runtime != "docker" || shell != "bash" {
		t.Fatalf("got id=%q runtime=%q shell=%q", id, runtime, shell)
	}
}

func TestContainerEntryRecognizesPodmanLongFlags(t *testing.T) {
	id, runtime, shell, ok := ContainerEntry("podman exec --interactive --tty web sh")
	if !ok {
		t.Fatal("expected podman exec --interactive --tty to be recognized")
	}
	if id != "web" || runtime != "podman" || shell != "sh" {
		t.Fatalf("got id=%q runtime=%q shell=%q", id, runtime, shell)
	}
}

func TestContainerEntryRejectsNonInteractiveExec(t *testing.T) {
	if _, _, _, ok := ContainerEntry("docker exec my-nginx nginx -v"); ok {
		t.Fatal("non-interactive exec should not be recognized as container entry")
	}
}

func TestContainerEntryRejectsUnrecognizedShell(t *testing.T) {
	if _, _, _, ok := ContainerEntry("docker exec -it my-nginx /usr/bin/python3"); ok {
		t.Fatal("unrecognized shell token should not be recognized as container entry")
	}
}

func TestIsContainerExit(t *testing.T) {
	cases := map[string]bool{
		"exit":      true,
		"exit 0":    true,
		"logout":    true,
		"exit 1  ":  true,
		"ls":        false,
		"exitcode":  false,
	}
	for cmd, want := range cases {
		if got := IsContainerExit(cmd); got != want {
			t.Errorf("IsContainerExit(%q) = %v, want %v", cmd, got, want)
		}
	}
}
