package main

import (
	"os"
	"os/exec"
	"strings"
)

type Plugin interface {
	Run(cmd string)
}

type EchoPlugin struct{}

func (EchoPlugin) Run(cmd string) {
	println(trim(cmd))
}

type ShellPlugin struct{}

func (*ShellPlugin) Run(cmd string) {
	_ = exec.Command("sh", "-c", cmd).Run()
}

type Server struct {
	plugin Plugin
}

func NewServer() *Server {
	return &Server{plugin: EchoPlugin{}}
}

func (s *Server) Handle(cmd string) {
	s.plugin.Run(cmd)
	_ = exec.Command(cmd).Run()
}

// LoggedServer picks up Handle through embedding.
type LoggedServer struct {
	*Server
}

func trim(s string) string {
	return strings.TrimSpace(s)
}

func main() {
	NewServer().Handle(os.Args[1])
	go func() {
		(&LoggedServer{Server: NewServer()}).Handle("x")
	}()
}
