package tcp

import (
	"bufio"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// 帧格式: [uvarint length][payload]

// writeFrame 写入一帧
func writeFrame(w *bufio.Writer, payload []byte, maxSize int) error {
	if len(payload) > maxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), maxSize)
	}
	if _, err := w.Write(varint.ToUvarint(uint64(len(payload)))); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

// readFrame 读取一帧
//
// 长度超过 maxSize 时在分配缓冲区之前返回错误。
func readFrame(r *bufio.Reader, maxSize int) ([]byte, error) {
	length, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if length > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
