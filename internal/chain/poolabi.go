package chain

// poolABIJSON is the minimal ABI surface the relayer needs from the shielded
// pool contract: the two deposit entry points clients call directly (the
// relayer itself does not call them), the operator-facing updateRoot and
// submitProof entry points (submitProof serves both withdraw and transfer),
// the two read-only views used to validate submissions before sending them,
// and the DepositQueued event the indexer decodes.
const poolABIJSON = `[
	{
		"type": "function",
		"name": "deposit",
		"stateMutability": "payable",
		"inputs": [{"name": "commitment", "type": "uint256"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "depositERC20",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "commitment", "type": "uint256"},
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "updateRoot",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "newRoot", "type": "uint256"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "isKnownRoot",
		"stateMutability": "view",
		"inputs": [{"name": "root", "type": "uint256"}],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "function",
		"name": "nullifiers",
		"stateMutability": "view",
		"inputs": [{"name": "nullifier", "type": "uint256"}],
		"outputs": [{"name": "spent", "type": "bool"}]
	},
	{
		"type": "function",
		"name": "submitProof",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "proof", "type": "bytes"},
			{"name": "publicSignals", "type": "uint256[8]"}
		],
		"outputs": []
	},
	{
		"type": "event",
		"name": "DepositQueued",
		"anonymous": false,
		"inputs": [
			{"name": "commitment", "type": "uint256", "indexed": true},
			{"name": "leafIndex", "type": "uint256", "indexed": false},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "asset", "type": "address", "indexed": false},
			{"name": "timestamp", "type": "uint256", "indexed": false}
		]
	}
]`
