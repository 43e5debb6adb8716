package signingkeys

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestOperatorIndexFromTopicDecodesBigEndianUint256(t *testing.T) {
	var topic common.Hash
	topic[31] = 7
	require.Equal(t, uint32(7), operatorIndexFromTopic(topic))

	topic = common.Hash{}
	topic[30] = 1
	topic[31] = 0
	require.Equal(t, uint32(256), operatorIndexFromTopic(topic))
}
