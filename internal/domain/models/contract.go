package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Code is a content-addressed byte sequence. CodeHash is keccak256(Code);
// rows are never mutated, updates are inserts keyed by hash.
type Code struct {
	CodeHash          []byte // keccak256, primary key
	CodeHashKeccak    []byte // kept equal to CodeHash; distinct column for parity with sources
	Code              []byte
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Contract is the chain-side identity of deployed bytecode, independent of
// any chain or address. CreationCodeHash is nil when the creation code is
// unknown.
type Contract struct {
	ID               int64
	CreationCodeHash []byte
	RuntimeCodeHash  []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ContractDeployment is one sighting of a contract at an address on a chain.
// An address may have several deployments across its history (redeployment
// after selfdestruct); uniqueness is (chain_id, address, transaction_hash,
// contract_id).
type ContractDeployment struct {
	ID               int64
	ChainID          uint64
	Address          common.Address
	TransactionHash  []byte
	ContractID       int64
	BlockNumber      *int64
	TransactionIndex *int64
	Deployer         []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
