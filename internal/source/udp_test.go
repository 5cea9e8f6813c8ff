package source

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/crossing.report/internal/timeutil"
)

func TestUDPSource_ReceivesDatagrams(t *testing.T) {
	t.Parallel()

	src, err := OpenUDP("127.0.0.1:0", timeutil.RealClock{})
	require.NoError(t, err)
	defer src.Close()

	conn, err := net.DialUDP("udp", nil, src.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte(`{"frame":1,"detections":[{"id":5,"pos":[1,2]}]}`)
	_, err = conn.Write(payload)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, f.Payload)
	assert.Equal(t, uint64(1), f.Seq)

	dets, err := JSONDetector{}.Detect(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, int64(5), dets[0].ObjectID)
}

func TestUDPSource_Cancellation(t *testing.T) {
	t.Parallel()

	src, err := OpenUDP("127.0.0.1:0", timeutil.RealClock{})
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUDPSource_ClosedIsPermanent(t *testing.T) {
	t.Parallel()

	src, err := OpenUDP("127.0.0.1:0", timeutil.RealClock{})
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestOpenUDP_BadAddress(t *testing.T) {
	t.Parallel()

	_, err := OpenUDP("not-a-host:notaport", timeutil.RealClock{})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}
