package main

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

// filePort is the fixed port an accepting peer listens on for the direct,
// server-unmediated file transfer (spec §4.4, §6).
const filePort = "1031"

// fileChunkSize matches the original client's 1024-byte read/recv loop
// (SPEC_FULL §12), carried into this reference client.
const fileChunkSize = 1024

// fileChecksum returns the uppercase hex MD5 digest of the file at path,
// matching client/file_manager.py's get_file_md5.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}

// formatFileSize renders size using binary (Ki/Mi/...) suffixes, matching
// client/file_manager.py's format_file_size.
func formatFileSize(size int64) string {
	f := float64(size)
	for _, unit := range []string{"", "Ki", "Mi", "Gi", "Ti", "Pi", "Ei", "Zi"} {
		if f < 1024 {
			return fmt.Sprintf("%.1f%sB", f, unit)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1fYiB", f)
}

// sendFile dials ip:filePort and streams path in fileChunkSize chunks. It
// is run by the file_request initiator once the peer accepts (spec §4.4).
func sendFile(ip, path string) (int64, time.Duration, error) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip, filePort), 10*time.Second)
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()

	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	start := time.Now()
	buf := make([]byte, fileChunkSize)
	var total int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return total, time.Since(start), werr
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return total, time.Since(start), rerr
		}
	}
	return total, time.Since(start), nil
}

// receiveFile listens once on 0.0.0.0:filePort, accepts a single
// connection, and writes the incoming stream to destPath (spec §4.4: "the
// acceptor listens on 0.0.0.0:1031 (single-accept)").
func receiveFile(destPath string) (int64, time.Duration, error) {
	ln, err := net.Listen("tcp", ":"+filePort)
	if err != nil {
		return 0, 0, err
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return 0, 0, err
	}
	defer out.Close()

	start := time.Now()
	total, err := io.Copy(out, conn)
	return total, time.Since(start), err
}
